// Command scanner looks up members from QR code frames or a typed ID against a registry server.
//
//	scanner -server http://localhost:3000 frame1.png frame2.jpg
//	scanner -id 1001
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/num-err/smartscan/config"
	"github.com/num-err/smartscan/utils"
	"github.com/num-err/smartscan/v1/models"
	"github.com/num-err/smartscan/v1/scanner"
)

func main() {
	_ = godotenv.Load()

	server := flag.String("server", config.GetEnvOrDefault("REGISTRY_URL", "http://localhost:3000"), "registry base URL")
	manualID := flag.Int64("id", 0, "look up this member ID instead of reading frames")
	timeout := flag.Duration("timeout", scanner.DefaultTimeout, "timeout per lookup")
	flag.Parse()

	utils.SetupLogging(config.GetEnvOrDefault("LOG_FORMAT", "text"), config.GetEnvOrDefault("LOG_LEVEL", "warn"))

	manual := flagSet("id")
	if !manual && flag.NArg() == 0 {
		die("provide -id or one or more frame image files")
	}

	client := scanner.NewClient(*server, *timeout)
	failed := false

	if manual {
		member, err := lookup(*timeout, func(ctx context.Context) (*models.Member, error) {
			return client.Lookup(ctx, *manualID)
		})
		fmt.Println(scanner.Render(member, err))
		failed = err != nil
	}

	for _, path := range flag.Args() {
		member, err := lookup(*timeout, func(ctx context.Context) (*models.Member, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			return client.LookupFrame(ctx, f)
		})
		fmt.Printf("%s\n%s\n", path, scanner.Render(member, err))
		if err != nil {
			slog.Debug("Frame lookup failed", "path", path, "error", err)
			failed = true
		}
	}

	if last := client.LastResult(); last != nil {
		slog.Info("Last allowed scan", "memberId", last.MemberID)
	}
	if failed {
		os.Exit(1)
	}
}

// flagSet reports whether the named flag was given on the command line
func flagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func lookup(timeout time.Duration, fn func(context.Context) (*models.Member, error)) (*models.Member, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx)
}

func die(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}
