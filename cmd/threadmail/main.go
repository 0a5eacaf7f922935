// Command threadmail is a small CLI over the IMAP session layer: list
// folders, search, show messages, resolve conversation threads and save
// drafts.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"

	"threadmail/internal/auth"
	"threadmail/internal/client"
	"threadmail/internal/config"
	"threadmail/internal/credential"
	"threadmail/internal/model"
	"threadmail/internal/tokencache"
)

const usage = `usage: threadmail [-config path] [-v] <command> [args]

commands:
  folders [-refresh]            list accessible mailboxes
  counts <mailbox>              show total/unread/read counts
  search <mailbox> <query>      search by symbolic token or text
  show <mailbox> <uid>          print one message
  thread <mailbox> <uid>        resolve and print a conversation
  draft <file>                  save a raw message file as a draft
  mark <mailbox> <uid> <flag> <on|off>
  move <mailbox> <uid> <dest>
  delete <mailbox> <uid>
  auth set-password            store the IMAP password in the system keyring
  auth clear                   remove the stored IMAP password
`

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to config file")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(context.Background(), logger, *configPath, flag.Args()); err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	cmd, args := args[0], args[1:]

	// Credential management talks only to the keyring; no session needed.
	if cmd == "auth" {
		return cmdAuth(cfg, args)
	}

	c, cleanup, err := buildClient(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	defer c.Disconnect()

	switch cmd {
	case "folders":
		return cmdFolders(ctx, c, args)
	case "counts":
		return cmdCounts(ctx, c, args)
	case "search":
		return cmdSearch(ctx, c, args)
	case "show":
		return cmdShow(ctx, c, args)
	case "thread":
		return cmdThread(ctx, c, args)
	case "draft":
		return cmdDraft(ctx, c, args)
	case "mark":
		return cmdMark(ctx, c, args)
	case "move":
		return cmdMove(ctx, c, args)
	case "delete":
		return cmdDelete(ctx, c, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// buildClient wires credentials and the token provider into a session
// client. The returned cleanup closes the token cache, if one was opened.
func buildClient(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*client.Client, func(), error) {
	opts := client.Options{
		Host:           cfg.IMAP.Host,
		Port:           cfg.IMAP.Port,
		Username:       cfg.IMAP.Username,
		UseSSL:         cfg.IMAP.UseSSL,
		AllowedFolders: cfg.AllowedFolders,
		Logger:         logger,
	}
	cleanup := func() {}

	switch cfg.IMAP.Auth {
	case "oauth2":
		cache, err := tokencache.Open(cfg.TokenCachePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = cache.Close() }

		secret := cfg.OAuth2.ClientSecret
		if secret == "" {
			// Fall back to the system keyring for the client secret.
			if s, err := credential.Get(credential.ClientSecretKey(cfg.IMAP.Username)); err == nil {
				secret = s
			}
		}
		provider, err := auth.NewRefreshProvider(ctx, auth.RefreshConfig{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: secret,
			TokenURL:     cfg.OAuth2.TokenURL,
			RefreshToken: cfg.OAuth2.RefreshToken,
			Scopes:       cfg.OAuth2.Scopes,
		}, cfg.IMAP.Username, cache)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts.TokenProvider = provider

	default:
		password := cfg.IMAP.Password
		if password == "" {
			if p, err := credential.Get(credential.PasswordKey(cfg.IMAP.Username)); err == nil {
				password = p
			}
		}
		opts.Password = password
	}

	return client.New(opts), cleanup, nil
}

func cmdAuth(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: auth <set-password|clear>")
	}

	switch args[0] {
	case "set-password":
		fmt.Fprintf(os.Stderr, "IMAP password for %s: ", cfg.IMAP.Username)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return errors.New("password must not be empty")
		}
		if err := credential.Set(credential.PasswordKey(cfg.IMAP.Username), password); err != nil {
			return err
		}
		fmt.Println("password stored")
		return nil

	case "clear":
		if err := credential.Delete(credential.PasswordKey(cfg.IMAP.Username)); err != nil {
			return err
		}
		fmt.Println("password removed")
		return nil

	default:
		return fmt.Errorf("unknown auth command %q", args[0])
	}
}

func cmdFolders(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("folders", flag.ExitOnError)
	refresh := fs.Bool("refresh", false, "bypass the folder cache")
	if err := fs.Parse(args); err != nil {
		return err
	}

	folders, err := c.ListFolders(ctx, *refresh)
	if err != nil {
		return err
	}
	for _, f := range folders {
		fmt.Println(f)
	}
	return nil
}

func cmdCounts(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: counts <mailbox>")
	}
	mailbox := args[0]

	total, err := c.MessageCount(ctx, mailbox, client.CountTotal, true)
	if err != nil {
		return err
	}
	unread, err := c.MessageCount(ctx, mailbox, client.CountUnread, false)
	if err != nil {
		return err
	}
	read, err := c.MessageCount(ctx, mailbox, client.CountRead, false)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d total, %d unread, %d read\n", mailbox, total, unread, read)
	return nil
}

func cmdSearch(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: search <mailbox> <query>")
	}
	mailbox, query := args[0], args[1]

	uids, err := c.Search(ctx, mailbox, query)
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		fmt.Println("no matches")
		return nil
	}

	msgs, err := c.FetchMany(ctx, mailbox, uids, 50)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		printSummary(m)
	}
	return nil
}

func cmdShow(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: show <mailbox> <uid>")
	}
	uid, err := parseUID(args[1])
	if err != nil {
		return err
	}

	msg, err := c.FetchOne(ctx, args[0], uid)
	if err != nil {
		return err
	}
	if msg == nil {
		fmt.Printf("message %d not found in %s\n", uid, args[0])
		return nil
	}

	fmt.Printf("From: %s\n", msg.From)
	if len(msg.To) > 0 {
		fmt.Printf("To: %s\n", joinAddresses(msg.To))
	}
	if len(msg.Cc) > 0 {
		fmt.Printf("Cc: %s\n", joinAddresses(msg.Cc))
	}
	if !msg.Date.IsZero() {
		fmt.Printf("Date: %s\n", msg.Date.Format("2006-01-02 15:04"))
	}
	fmt.Printf("Subject: %s\n", msg.Subject)
	for _, a := range msg.Attachments {
		fmt.Printf("Attachment: %s (%s, %d bytes)\n", a.Filename, a.MediaType, a.Size)
	}
	fmt.Println()
	fmt.Println(msg.BestBody())
	return nil
}

func cmdThread(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: thread <mailbox> <uid>")
	}
	uid, err := parseUID(args[1])
	if err != nil {
		return err
	}

	msgs, err := c.ResolveThread(ctx, args[0], uid)
	if err != nil {
		return err
	}
	fmt.Printf("%d messages in thread\n", len(msgs))
	for _, m := range msgs {
		printSummary(m)
	}
	return nil
}

func cmdDraft(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: draft <file>")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading draft file: %w", err)
	}

	uid, err := c.SaveDraft(ctx, raw)
	if err != nil {
		return err
	}
	if uid == 0 {
		fmt.Println("draft saved (server reported no UID)")
	} else {
		fmt.Printf("draft saved with UID %d\n", uid)
	}
	return nil
}

func cmdMark(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: mark <mailbox> <uid> <flag> <on|off>")
	}
	uid, err := parseUID(args[1])
	if err != nil {
		return err
	}
	flag, err := parseFlag(args[2])
	if err != nil {
		return err
	}
	set := args[3] == "on"
	if !set && args[3] != "off" {
		return fmt.Errorf("want on or off, got %q", args[3])
	}

	return c.MarkMessage(ctx, args[0], uid, flag, set)
}

func cmdMove(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: move <mailbox> <uid> <dest>")
	}
	uid, err := parseUID(args[1])
	if err != nil {
		return err
	}
	return c.MoveMessage(ctx, args[0], args[2], uid)
}

func cmdDelete(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: delete <mailbox> <uid>")
	}
	uid, err := parseUID(args[1])
	if err != nil {
		return err
	}
	return c.DeleteMessage(ctx, args[0], uid)
}

func printSummary(m *model.Message) {
	date := "unknown date"
	if !m.Date.IsZero() {
		date = m.Date.Format("2006-01-02 15:04")
	}
	fmt.Printf("%6d  %s  %-30s  %s\n", m.UID, date, m.From, m.Subject)
}

func joinAddresses(addrs []model.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

func parseUID(s string) (imap.UID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid UID %q", s)
	}
	return imap.UID(n), nil
}

var flagNames = map[string]imap.Flag{
	"seen":     imap.FlagSeen,
	"answered": imap.FlagAnswered,
	"flagged":  imap.FlagFlagged,
	"deleted":  imap.FlagDeleted,
	"draft":    imap.FlagDraft,
}

func parseFlag(s string) (imap.Flag, error) {
	if f, ok := flagNames[strings.ToLower(s)]; ok {
		return f, nil
	}
	return "", fmt.Errorf("unknown flag %q", s)
}
