package scanfmt

import (
	"errors"
	"testing"
)

func TestParseBasic(t *testing.T) {
	specs, err := Parse("%d %5s %ld")
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 3 {
		t.Fatalf("got %d specifiers, want 3: %#v", len(specs), specs)
	}
	if specs[0].Conversion != VerbInt {
		t.Errorf("specs[0].Conversion = %q, want 'd'", specs[0].Conversion)
	}
	if specs[1].Conversion != VerbString || !specs[1].WidthSpecified || specs[1].Width != 5 {
		t.Errorf("specs[1] = %#v, want width 5 string", specs[1])
	}
	if specs[2].Conversion != VerbInt || specs[2].Length != LengthL {
		t.Errorf("specs[2] = %#v, want long int", specs[2])
	}
}

func TestParseSuppressAssignment(t *testing.T) {
	specs, err := Parse("%*d%n")
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specifiers, want 2", len(specs))
	}
	if !specs[0].SuppressAssignment || specs[0].ConsumesArg() {
		t.Errorf("specs[0] = %#v, want suppressed and non-consuming", specs[0])
	}
	if !specs[1].ConsumesArg() {
		t.Errorf("specs[1] should consume an argument")
	}
}

func TestParsePercentLiteral(t *testing.T) {
	specs, err := Parse("100%% done %d")
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specifiers, want 2 (%%%% and %%d): %#v", len(specs), specs)
	}
	if specs[0].Conversion != VerbPercent || specs[0].ConsumesArg() {
		t.Errorf("specs[0] = %#v, want non-consuming %%", specs[0])
	}
}

func TestParseSet(t *testing.T) {
	specs, err := Parse("%[a-z]")
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 1 || specs[0].Conversion != VerbSet {
		t.Fatalf("got %#v, want one set specifier", specs)
	}
	for _, c := range []byte("a-z") {
		if !specs[0].SetLookup[c] {
			t.Errorf("expected %q to be a set member", c)
		}
	}
	if specs[0].SetLookup['Q'] {
		t.Error("did not expect 'Q' to be a set member")
	}
}

func TestParseSetNegatedWithBracket(t *testing.T) {
	specs, err := Parse("%[^]0-9]")
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 1 || !specs[0].SetNegation {
		t.Fatalf("got %#v, want one negated set", specs)
	}
	if specs[0].SetLookup[']'] {
		t.Error("']' was a literal set member so should be false after negation")
	}
	if specs[0].SetLookup['Q'] != true {
		t.Error("'Q' was not a set member so should be true after negation")
	}
}

func TestParseUnterminatedSet(t *testing.T) {
	_, err := Parse("%[abc")
	if err == nil {
		t.Fatal("expected error for unterminated set")
	}
	var pf *SpecifierParseFailure
	if !errors.As(err, &pf) {
		t.Fatalf("err = %v, want *SpecifierParseFailure", err)
	}
}

func TestConsumesWhitespaceByConversion(t *testing.T) {
	specs, err := Parse("%d %c %[a-z] %n %%")
	if err != nil {
		t.Fatal(err)
	}
	want := []bool{true, false, false, false, false}
	if len(specs) != len(want) {
		t.Fatalf("got %d specifiers, want %d: %#v", len(specs), len(want), specs)
	}
	for i, spec := range specs {
		if spec.ConsumesWhitespace != want[i] {
			t.Errorf("specs[%d] (%q) ConsumesWhitespace = %v, want %v", i, byte(spec.Conversion), spec.ConsumesWhitespace, want[i])
		}
	}
}

func TestSuppressionNotAllowedForPercent(t *testing.T) {
	_, err := Parse("%*%")
	if err == nil {
		t.Fatal("expected error suppressing %%")
	}
	var sna *SuppressionNotAllowed
	if !errors.As(err, &sna) {
		t.Fatalf("err = %v, want *SuppressionNotAllowed", err)
	}
	if sna.Conversion != VerbPercent {
		t.Errorf("sna.Conversion = %q, want %%", byte(sna.Conversion))
	}
}

func TestBadWidthIsParseFailure(t *testing.T) {
	_, err := Parse("%99999999999999999999d")
	if err == nil {
		t.Fatal("expected error for width overflowing int")
	}
	var pf *SpecifierParseFailure
	if !errors.As(err, &pf) {
		t.Fatalf("err = %v, want *SpecifierParseFailure", err)
	}
	if pf.Unwrap() == nil {
		t.Error("expected wrapped strconv error")
	}
}
