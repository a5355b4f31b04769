// cmd/tools/catalog-export/main.go
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"bma-social-bot/internal/catalog"
	"bma-social-bot/internal/common/config"
	"bma-social-bot/internal/common/database"
	"bma-social-bot/internal/models"
)

// catalog-export dumps the venue catalog to CSV or JSON for support-team
// review. It reads from the same source the server uses.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	format := flag.String("format", "csv", "Output format (csv or json)")
	out := flag.String("out", "", "Output file (default stdout)")
	activeOnly := flag.Bool("active-only", false, "Export only active venues")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var source catalog.Source
	if cfg.Catalog.Source == "postgres" {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			fmt.Printf("Error connecting to PostgreSQL: %v\n", err)
			os.Exit(1)
		}
		defer pg.Close()
		source = catalog.NewPostgresSource(pg.DB)
	} else {
		source = catalog.NewFileSource(cfg.Catalog.FilePath)
	}

	venues, err := source.Fetch(ctx)
	if err != nil {
		fmt.Printf("Error fetching catalog: %v\n", err)
		os.Exit(1)
	}

	if *activeOnly {
		filtered := venues[:0]
		for _, v := range venues {
			if v.Active {
				filtered = append(filtered, v)
			}
		}
		venues = filtered
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Printf("Error creating output file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	switch *format {
	case "csv":
		err = writeCSV(w, venues)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(venues)
	default:
		fmt.Printf("Unknown format: %s (expected csv or json)\n", *format)
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Error writing output: %v\n", err)
		os.Exit(1)
	}

	if *out != "" {
		fmt.Printf("Exported %d venues to %s\n", len(venues), *out)
	}
}

func writeCSV(w *os.File, venues []models.Venue) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"venue", "country", "platform", "active", "annual_price", "currency", "contract_end", "zone", "device_id", "online", "controllable"}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, v := range venues {
		contractEnd := ""
		if !v.ContractEnd.IsZero() {
			contractEnd = v.ContractEnd.Format("2006-01-02")
		}
		for _, z := range v.Zones {
			row := []string{
				v.Name,
				v.Country,
				v.Platform,
				strconv.FormatBool(v.Active),
				strconv.FormatFloat(v.AnnualPrice, 'f', 2, 64),
				v.Currency,
				contractEnd,
				z.Name,
				z.DeviceID,
				strconv.FormatBool(z.Online),
				strconv.FormatBool(z.Controllable),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		if len(v.Zones) == 0 {
			row := []string{v.Name, v.Country, v.Platform, strconv.FormatBool(v.Active),
				strconv.FormatFloat(v.AnnualPrice, 'f', 2, 64), v.Currency, contractEnd,
				"", "", "", ""}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}
