// Command bloombench drives a running bloomd instance with a
// configurable number of concurrent connections, each issuing set and
// check commands against a single filter, and reports throughput.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8673", "bloomd TCP address")
	filterName := flag.String("filter", "bench", "filter name to create and exercise")
	conns := flag.Int("conns", 8, "number of concurrent connections")
	opsPerConn := flag.Int("ops", 10000, "set+check operations per connection")
	flag.Parse()

	if err := createFilter(*addr, *filterName); err != nil {
		fmt.Fprintf(os.Stderr, "create filter: %v\n", err)
		os.Exit(1)
	}

	var setOps, checkOps int64
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *conns; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			if err := runWorker(*addr, *filterName, worker, *opsPerConn, &setOps, &checkOps); err != nil {
				fmt.Fprintf(os.Stderr, "worker %d: %v\n", worker, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	total := atomic.LoadInt64(&setOps) + atomic.LoadInt64(&checkOps)
	fmt.Printf("connections: %d\n", *conns)
	fmt.Printf("sets: %d, checks: %d, total: %d\n", setOps, checkOps, total)
	fmt.Printf("elapsed: %s (%.0f ops/sec)\n", elapsed, float64(total)/elapsed.Seconds())
}

func createFilter(addr, name string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "create %s\n", name); err != nil {
		return err
	}
	reader := bufio.NewReader(conn)
	resp, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	_ = resp // "Done" or "Exists" are both acceptable here
	return nil
}

func runWorker(addr, filterName string, worker, ops int, setOps, checkOps *int64) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for i := 0; i < ops; i++ {
		k := fmt.Sprintf("w%d-k%d", worker, i)

		if _, err := fmt.Fprintf(writer, "set %s %s\n", filterName, k); err != nil {
			return err
		}
		if err := writer.Flush(); err != nil {
			return err
		}
		if _, err := reader.ReadString('\n'); err != nil {
			return err
		}
		atomic.AddInt64(setOps, 1)

		if _, err := fmt.Fprintf(writer, "check %s %s\n", filterName, k); err != nil {
			return err
		}
		if err := writer.Flush(); err != nil {
			return err
		}
		if _, err := reader.ReadString('\n'); err != nil {
			return err
		}
		atomic.AddInt64(checkOps, 1)
	}
	return nil
}
