// Command ttdump dumps the contents of a trace directory: its header
// and, for each thread, every record in its event stream.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ianlancetaylor/demangle"

	"github.com/gotraceview/ttengine/trace"
	"github.com/gotraceview/ttengine/tracefmt"
)

func main() {
	var (
		flagInput    = flag.String("i", "", "trace `directory`")
		flagThread   = flag.Int("thread", -1, "dump only thread `N` (-1 for all)")
		flagDemangle = flag.Bool("demangle", false, "best-effort demangle Itanium C++ symbol names appearing in checker function names")
	)
	flag.Parse()
	if *flagInput == "" || flag.NArg() > 0 {
		flag.Usage()
		os.Exit(1)
	}

	tr, err := trace.Open(*flagInput)
	if err != nil {
		log.Fatal(err)
	}
	defer tr.Close()

	h := tr.Header()
	fmt.Printf("version: %d\n", h.Version)
	fmt.Printf("session: %s\n", h.SessionID)
	fmt.Printf("threads: %d\n", h.ThreadCount)
	fmt.Printf("final process time: %d\n", h.FinalProcessTime)

	fmt.Printf("\nprocess stream:\n")
	dumpStream(tr.Process(), *flagDemangle)

	for tid := 0; tid < int(h.ThreadCount); tid++ {
		if *flagThread >= 0 && tid != *flagThread {
			continue
		}
		fmt.Printf("\nthread %d stream (final thread_time %d):\n", tid, h.ThreadFinalTimes[tid])
		dumpStream(tr.Thread(tid), *flagDemangle)
	}
}

func dumpStream(s *trace.Stream, demangleNames bool) {
	it := s.Records()
	for it.Next() {
		fmt.Printf("  %8d: %#v\n", it.Offset, it.Record)
		if demangleNames {
			if re, ok := it.Record.(tracefmt.RuntimeError); ok {
				if name := demangleName(string(re.Payload)); name != string(re.Payload) {
					fmt.Printf("  %8s  demangled: %s\n", "", name)
				}
			}
		}
	}
	if err := it.Err(); err != nil {
		log.Printf("error reading stream: %v", err)
	}
}

// demangleName best-effort demangles a C++ symbol name, returning it
// unchanged if it isn't a recognized mangled name.
func demangleName(name string) string {
	out, err := demangle.ToString(name)
	if err != nil {
		return name
	}
	return out
}
