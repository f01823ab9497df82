// Command capnweb-inspect reads a captured session log — one ND-JSON frame
// per line, the same bytes a transport would feed to Session.Inject — and
// prints the decoded message and, for push frames, the parsed plan.Call
// tree, for manually checking a log against the Testable Properties of
// spec.md §8 (S1-S6) without standing up a real peer.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kylelemons/godebug/pretty"

	"github.com/capnweb-go/capnweb/plan"
	"github.com/capnweb-go/capnweb/wire"
)

func main() {
	path := flag.String("f", "", "file to read frames from (default: stdin)")
	flag.Parse()

	in := os.Stdin
	if *path != "" {
		f, err := os.Open(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "capnweb-inspect: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	if err := inspect(in, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "capnweb-inspect: %v\n", err)
		os.Exit(1)
	}
}

func inspect(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	// Push frames that embed a deep plan tree can exceed the default
	// 64KiB token size; grow the buffer instead of silently truncating it.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// CID 0 is reserved (spec.md Open Question); a log's first push is CID 1.
	callIndex := 1
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		fmt.Fprintf(w, "--- line %d ---\n", lineNo)

		msg, err := wire.DecodeFrame(line)
		if err != nil {
			fmt.Fprintf(w, "decode error: %v\nraw: %s\n", err, line)
			continue
		}

		fmt.Fprintf(w, "tag: %s\n", msg.Tag)
		switch msg.Tag {
		case wire.Push:
			id := callIndex
			callIndex++
			call, err := plan.DecodeCall(msg.Args[0], id)
			if err != nil {
				fmt.Fprintf(w, "  call id %d: decode error: %v\n", id, err)
				continue
			}
			fmt.Fprintf(w, "  call id %d:\n%s", id, indent(pretty.Sprint(call)))
		case wire.Reject, wire.Abort:
			idx := 0
			if msg.Tag == wire.Reject {
				idx = 1
			}
			if werr, ok := wire.ErrorFromValue(msg.Args[idx]); ok {
				fmt.Fprintf(w, "  error: %s: %s\n", werr.Kind, werr.Message)
				if werr.Data != nil {
					fmt.Fprintf(w, "  data:\n%s", indent(pretty.Sprint(werr.Data)))
				}
			} else {
				fmt.Fprintf(w, "  args:\n%s", indent(pretty.Sprint(msg.Args)))
			}
		default:
			fmt.Fprintf(w, "  args:\n%s", indent(pretty.Sprint(msg.Args)))
		}
	}
	return scanner.Err()
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "    " + line
	}
	return strings.Join(lines, "\n") + "\n"
}
