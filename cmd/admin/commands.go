package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
)

const apiKeyBytes = 32

type migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context, target int64) error
	Version(ctx context.Context) (int64, error)
}

type clientStore interface {
	Create(ctx context.Context, client *domain.Client) error
	SetActive(ctx context.Context, id string, active bool) error
	List(ctx context.Context) ([]domain.Client, error)
}

func commandMigrate(ctx context.Context, args []string, m migrator, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("migrate requires one of: up, down, version")
	}

	switch args[0] {
	case "up":
		return m.Up(ctx)
	case "down":
		fs := flag.NewFlagSet("migrate down", flag.ContinueOnError)
		target := fs.Int64("target", 0, "roll back to this version instead of one step")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return m.Down(ctx, *target)
	case "version":
		version, err := m.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "schema version: %d\n", version)
		return nil
	default:
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}
}

func commandCreateClient(ctx context.Context, args []string, store clientStore, out io.Writer) error {
	fs := flag.NewFlagSet("create-client", flag.ContinueOnError)
	name := fs.String("name", "", "client name")
	rateLimit := fs.Int("rate-limit", 0, "events per window, 0 for unlimited")
	inactive := fs.Bool("inactive", false, "register the client deactivated")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*name) == "" {
		return errors.New("-name is required")
	}
	if *rateLimit < 0 {
		return errors.New("-rate-limit must be >= 0")
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		return err
	}

	client := &domain.Client{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(*name),
		APIKey:    apiKey,
		IsActive:  !*inactive,
		RateLimit: *rateLimit,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Create(ctx, client); err != nil {
		return err
	}

	fmt.Fprintf(out, "client_id: %s\napi_key:   %s\n", client.ID, client.APIKey)
	return nil
}

func commandSetActive(ctx context.Context, name string, args []string, store clientStore, active bool, out io.Writer) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	id := fs.String("id", "", "client id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" {
		return errors.New("-id is required")
	}

	if err := store.SetActive(ctx, *id, active); err != nil {
		return fmt.Errorf("client %s: %w", *id, err)
	}

	fmt.Fprintf(out, "client %s %sd\n", *id, name)
	return nil
}

func commandList(ctx context.Context, store clientStore, out io.Writer) error {
	clients, err := store.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tACTIVE\tRATE LIMIT\tCREATED")
	for _, c := range clients {
		limit := "unlimited"
		if c.RateLimit > 0 {
			limit = strconv.Itoa(c.RateLimit)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", c.ID, c.Name, c.IsActive, limit, c.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func generateAPIKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
