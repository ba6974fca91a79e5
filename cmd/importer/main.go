package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"oparl-geo/internal/config"
	"oparl-geo/internal/gazetteer"
	"oparl-geo/internal/models"
	"oparl-geo/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	file := flag.String("file", "", "Path to the gazetteer GeoJSON file to import")
	kind := flag.String("kind", string(models.KindStreet), "Entry kind: street or district")
	flag.Parse()

	if *file == "" {
		fmt.Println("Error: --file flag is required")
		os.Exit(1)
	}
	k := models.Kind(*kind)
	if k != models.KindStreet && k != models.KindDistrict {
		fmt.Printf("Error: unsupported kind %q\n", *kind)
		os.Exit(1)
	}

	_ = godotenv.Load(".env.local")

	fmt.Printf("Starting import from file: %s\n", *file)

	entries, err := gazetteer.LoadFile(*file, k)
	if err != nil {
		fmt.Printf("Error parsing gazetteer: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Parsed %d %s entries\n", len(entries), k)

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.DBSource == "" {
		fmt.Println("Error: db_source is not configured")
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := pgxpool.New(ctx, cfg.DBSource)
	if err != nil {
		fmt.Printf("Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	repo := repository.NewRepository(conn)

	if err := repo.CreateSchema(ctx); err != nil {
		fmt.Printf("Error creating table: %v\n", err)
		os.Exit(1)
	}

	before, err := repo.Count(ctx, k)
	if err != nil {
		fmt.Printf("Error counting entries: %v\n", err)
		os.Exit(1)
	}

	inserted, err := repo.ImportEntries(ctx, entries)
	if err != nil {
		fmt.Printf("Error inserting entries: %v\n", err)
		os.Exit(1)
	}

	after, err := repo.Count(ctx, k)
	if err != nil {
		fmt.Printf("Error verifying import: %v\n", err)
		os.Exit(1)
	}
	if after-before != inserted {
		fmt.Printf("Error verifying import: expected %d new rows, got %d\n", inserted, after-before)
		os.Exit(1)
	}

	fmt.Printf("Successfully imported %d entries (%d %s entries total)\n", inserted, after, k)
}
