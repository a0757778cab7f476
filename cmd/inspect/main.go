package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

// inspect dumps raw message store keys for debugging. It opens the pebble
// directory read-only style (no writes are issued) and prints each key with
// its decoded value.
func main() {
	var (
		path   = flag.String("path", "", "pebble store directory")
		prefix = flag.String("prefix", "conv:", "key prefix to scan")
		pretty = flag.Bool("pretty", false, "indent JSON values")
	)
	flag.Parse()
	if *path == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}

	db, err := pebble.Open(*path, &pebble.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: []byte(*prefix)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "iterator failed: %v\n", err)
		os.Exit(1)
	}
	defer iter.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		if len(key) < len(*prefix) || key[:len(*prefix)] != *prefix {
			break
		}
		val := iter.Value()
		if *pretty {
			var buf map[string]any
			if err := json.Unmarshal(val, &buf); err == nil {
				if b, err := json.MarshalIndent(buf, "", "  "); err == nil {
					val = b
				}
			}
		}
		fmt.Printf("%s\t%s\n", key, val)
		count++
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", count)
}
