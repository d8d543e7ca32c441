// Package main implements sa-tail, a terminal tailer for bookmarked
// Something Awful forum threads. It logs in (or resumes a cached
// session), then polls bookmarks and prints new posts as they appear.
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sa-tail/client"
	"sa-tail/session"
	"sa-tail/storage"
	"sa-tail/tail"
)

var (
	authPath     string
	historyPath  string
	bucket       string
	postDelay    time.Duration
	threadDelay  time.Duration
	refreshDelay time.Duration
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:          "sa-tail",
	Short:        "Tails your bookmarked Something Awful threads.",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&authPath, "auth", ".something-awful.token",
		"File caching the login session. Delete it to force a fresh login.")
	f.StringVar(&historyPath, "history", ".sa-tail-history.json",
		"File tracking the last surfaced post per thread.")
	f.StringVar(&bucket, "bucket", "",
		"Cloud Storage bucket holding session and history state; local files when empty.")
	f.DurationVar(&postDelay, "post-delay", time.Second,
		"Wait between rendering posts. Raise it for extra time to read each message.")
	f.DurationVar(&threadDelay, "thread-delay", time.Second,
		"Wait between polling threads. Raise it if you bookmark many threads.")
	f.DurationVar(&refreshDelay, "refresh-delay", 30*time.Second,
		"Wait between full poll cycles. Don't poll too frequently.")
	f.BoolVar(&verbose, "verbose", false, "Enable debug logging.")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx := signalContext()

	store, err := newStore(ctx, logger)
	if err != nil {
		return err
	}

	sess, err := session.New(session.Options{Logger: logger})
	if err != nil {
		return err
	}
	cl := client.New(sess, logger)

	if err := ensureLogin(ctx, sess, cl, store, logger); err != nil {
		return err
	}

	engine := tail.New(cl, store, &consoleSink{out: cmd.OutOrStdout()}, tail.Config{
		PostDelay:   postDelay,
		ThreadDelay: threadDelay,
		CycleDelay:  refreshDelay,
	}, logger)

	logger.Info("Tailing bookmarked threads",
		"post_delay", postDelay.String(),
		"thread_delay", threadDelay.String(),
		"refresh_delay", refreshDelay.String())

	if err := engine.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shutting down")
	return nil
}

func newStore(ctx context.Context, logger *slog.Logger) (*storage.Store, error) {
	if bucket == "" {
		return storage.NewLocal(historyPath, authPath, logger), nil
	}
	gcsClient, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize storage client: %w", err)
	}
	logger.Info("Using Cloud Storage state", "bucket", bucket)
	return storage.NewBucket(gcsClient, bucket, historyPath, authPath, logger), nil
}

// ensureLogin resumes a cached session when one exists and still
// authenticates, otherwise prompts for credentials, logs in, and caches
// the fresh session.
func ensureLogin(ctx context.Context, sess *session.Session, cl *client.Client, store *storage.Store, logger *slog.Logger) error {
	if data, err := store.LoadSession(ctx); err == nil {
		if err := sess.ImportCookies(bytes.NewReader(data)); err != nil {
			logger.Warn("Ignoring unreadable session cache", "error", err)
		} else if profile, err := cl.FetchProfile(ctx, client.CurrentUser()); err == nil && profile != nil {
			logger.Info("Logged in from cached session", "username", profile.Username)
			return nil
		}
	} else if !storage.IsNotFound(err) {
		return err
	}

	username, password, err := promptCredentials()
	if err != nil {
		return err
	}
	if err := sess.Login(ctx, username, password); err != nil {
		return err
	}

	var snapshot bytes.Buffer
	if err := sess.ExportCookies(&snapshot); err != nil {
		return err
	}
	if err := store.SaveSession(ctx, snapshot.Bytes()); err != nil {
		logger.Warn("Failed to cache session", "error", err)
	}
	return nil
}

func promptCredentials() (username, password string, err error) {
	fmt.Fprint(os.Stderr, "Username: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("read username: %w", err)
	}

	fmt.Fprint(os.Stderr, "Password (hidden): ")
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", "", fmt.Errorf("read password: %w", err)
	}

	return strings.TrimSpace(line), string(secret), nil
}

// signalContext returns a context cancelled by Ctrl+C or SIGTERM, so an
// in-flight wait ends cleanly instead of requiring a hard kill.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	return ctx
}
