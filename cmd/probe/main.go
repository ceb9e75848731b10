// Command probe drives a running credscore server through its HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/okian/credscore/internal/adapters/scoreapi"
)

var version = "dev"

// statsFetchesKey is the /stats counter of upstream calls made by the server.
const statsFetchesKey = "upstreamFetches"

var errLookupsFailed = errors.New("lookups failed")

// Globals are flags shared by every command.
type Globals struct {
	Server  string        `help:"Base URL of the credscore server." default:"http://localhost:9080" env:"CREDSCORE_PROBE_SERVER"`
	Timeout time.Duration `help:"Per-request timeout." default:"15s"`
}

func (g *Globals) client() (*scoreapi.Client, error) {
	return scoreapi.New(g.Server, scoreapi.WithTimeout(g.Timeout), scoreapi.WithUserAgent("credscore-probe/"+version))
}

// CLI is the top-level command structure for probe.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version." short:"V"`
	Score   ScoreCmd         `cmd:"" help:"Look up one or more subjects."`
	Burst   BurstCmd         `cmd:"" help:"Fire concurrent lookups for one subject and report upstream fetches."`
	Load    LoadCmd          `cmd:"" help:"Prefetch many fresh subjects and verify the leaderboard built from them."`
}

// ScoreCmd looks subjects up one after another.
type ScoreCmd struct {
	Subjects []string `arg:"" help:"Handles or 0x addresses."`
}

// Run executes the score command.
func (c *ScoreCmd) Run(ctx context.Context, g *Globals, out io.Writer) error {
	client, err := g.client()
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}
	failed := 0
	for _, subject := range c.Subjects {
		score, err := client.FetchScore(ctx, subject)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s\terror: %s\n", subject, err)
			continue
		}
		fmt.Fprintf(out, "%s\t%d\n", subject, score)
	}
	if failed > 0 {
		return fmt.Errorf("score: %d of %d %w", failed, len(c.Subjects), errLookupsFailed)
	}
	return nil
}

// BurstCmd fires concurrent lookups for a single subject.
type BurstCmd struct {
	Subject string `arg:"" help:"Handle or 0x address."`
	Callers int    `help:"Number of concurrent lookups." default:"10"`
}

// Run executes the burst command.
func (c *BurstCmd) Run(ctx context.Context, g *Globals, out io.Writer) error {
	if c.Callers < 1 {
		return errors.New("burst: --callers must be at least 1")
	}
	client, err := g.client()
	if err != nil {
		return fmt.Errorf("burst: %w", err)
	}

	before, err := upstreamFetches(ctx, client)
	if err != nil {
		return fmt.Errorf("burst: %w", err)
	}

	var failed atomic.Int64
	scores := make([]int, c.Callers)
	start := time.Now()
	var eg errgroup.Group
	for i := range c.Callers {
		eg.Go(func() error {
			score, err := client.FetchScore(ctx, c.Subject)
			if err != nil {
				failed.Add(1)
				return nil
			}
			scores[i] = score
			return nil
		})
	}
	_ = eg.Wait()
	elapsed := time.Since(start)

	after, err := upstreamFetches(ctx, client)
	if err != nil {
		return fmt.Errorf("burst: %w", err)
	}

	fmt.Fprintf(out, "subject:          %s\n", c.Subject)
	fmt.Fprintf(out, "callers:          %d\n", c.Callers)
	fmt.Fprintf(out, "failed:           %d\n", failed.Load())
	fmt.Fprintf(out, "elapsed:          %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "upstream fetches: %d\n", after-before)
	for _, s := range scores {
		if s != 0 {
			fmt.Fprintf(out, "score:            %d\n", s)
			break
		}
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("burst: %d of %d %w", n, c.Callers, errLookupsFailed)
	}
	return nil
}

// upstreamFetches reads the server's upstream call counter.
func upstreamFetches(ctx context.Context, client *scoreapi.Client) (int64, error) {
	stats, err := client.Stats(ctx)
	if err != nil {
		return 0, err
	}
	v, ok := stats[statsFetchesKey].(float64)
	if !ok {
		return 0, fmt.Errorf("stats: missing %q", statsFetchesKey)
	}
	return int64(v), nil
}

// run parses args and executes the selected command.
func run(ctx context.Context, args []string, out io.Writer, opts ...kong.Option) error {
	var cli CLI
	opts = append([]kong.Option{
		kong.Name("probe"),
		kong.Description("Drive a running credscore server."),
		kong.Vars{"version": version},
		kong.Writers(out, out),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.BindTo(out, (*io.Writer)(nil)),
	}, opts...)
	parser, err := kong.New(&cli, opts...)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kctx.Run(&cli.Globals)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		stop()
		os.Exit(1)
	}
}
