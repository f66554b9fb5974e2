// Command dsync compares two directory trees in parallel and, unless asked
// for a dry run, makes the destination an exact replica of the source.
//
//	dsync [options] source target
package main

import "os"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
