// ============================================================================
// Instant Recovery Demo
// ============================================================================
//
// File: cmd/demo/main.go
// Purpose: interactive crash/recovery demonstration, adapted from the
// teacher's job-queue crash demo (cmd/demo/main.go) to the recovery
// engine's actual semantics: write keys, crash (Ctrl+C or `kill -9`),
// restart, and observe on-demand / incremental restore bring keys back.
//
// Usage:
//   go run cmd/demo/main.go start     # start fresh, write demo keys
//   go run cmd/demo/main.go recover   # restart against the same data dir
//
// ============================================================================

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/raft-recovery/internal/config"
	"github.com/ChuLiYu/raft-recovery/internal/engine"
	"github.com/ChuLiYu/raft-recovery/internal/kvclient"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/demo/main.go <start|recover>")
		os.Exit(1)
	}
	mode := os.Args[1]

	cfgPath := "configs/default.conf"
	if len(os.Args) > 2 {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("no engine config at %s, using defaults: %v\n", cfgPath, err)
		cfg = config.Defaults()
	}

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("failed to construct engine: %v", err)
	}

	addr := "127.0.0.1:6380"
	if err := eng.Start(addr); err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}
	fmt.Printf("✓ Recovery engine started (mode: %s), listening on %s\n", mode, addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if mode == "start" {
		client, err := kvclient.Dial(addr)
		if err != nil {
			log.Fatalf("failed to dial own server: %v", err)
		}
		defer client.Close()

		fmt.Println("✓ Writing 1000 demo keys...")
		for i := 0; i < 1000; i++ {
			key := fmt.Sprintf("demo-key-%04d", i)
			if err := client.SubmitRedo(key, fmt.Sprintf("value-%d", i)); err != nil {
				log.Fatalf("write failed: %v", err)
			}
		}
		fmt.Println("✓ 1000 keys written to the WAL")
		fmt.Println("💡 Press Ctrl+C now (or kill -9 the process) to simulate a crash")
		fmt.Println("   Then run: go run cmd/demo/main.go recover", cfgPath)
	} else if mode == "recover" {
		time.Sleep(200 * time.Millisecond)
		onDemand, incremental, inconsistent := eng.Stats()
		fmt.Printf("\n📊 Restore status after startup catch-up:\n")
		fmt.Printf("  on-demand loads:    %d\n", onDemand)
		fmt.Printf("  incremental loads:  %d\n", incremental)
		fmt.Printf("  inconsistent loads: %d\n", inconsistent)
		fmt.Println("\n💡 Fetch a key with: printf '*2\\n$3\\nGET\\n$13\\ndemo-key-0000\\n' | nc 127.0.0.1 6380")
	}

	<-sigChan
	fmt.Println("\n\nReceived shutdown signal, stopping gracefully...")
	if err := eng.PersistShutdownMarker(time.Now()); err != nil {
		log.Printf("failed to persist shutdown marker: %v\n", err)
	}
	eng.Stop()
	fmt.Println("✓ Engine stopped")
}
