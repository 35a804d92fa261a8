package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/storage"
)

func main() {
	var (
		outDir     = flag.String("out", "data/samples", "Directory for prices.csv and yields.csv")
		dataPath   = flag.String("data", "", "Also store the generated history in this data directory")
		days       = flag.Int("days", 365, "Number of days of price data to generate")
		years      = flag.Int("years", 10, "Number of seasons of yield data to generate")
		startPrice = flag.Float64("start-price", 40, "Base price per kg")
		seed       = flag.Uint64("seed", 1, "Random seed")
	)
	flag.Parse()

	fmt.Println("Generating sample data...")
	fmt.Printf("  Days: %d\n", *days)
	fmt.Printf("  Seasons: %d\n", *years)
	fmt.Printf("  Base Price: KES %.2f\n", *startPrice)
	fmt.Printf("  Output: %s\n", *outDir)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	rng := rand.New(rand.NewPCG(*seed, *seed+1))
	end := time.Now().UTC().Truncate(24 * time.Hour)

	prices := generatePrices(rng, *startPrice, end.AddDate(0, 0, -*days), end)
	if err := writeCSV(filepath.Join(*outDir, "prices.csv"), prices); err != nil {
		log.Fatalf("Failed to write prices: %v", err)
	}
	yields := generateYields(rng, end.Year()-*years, end.Year())
	if err := writeCSV(filepath.Join(*outDir, "yields.csv"), yields); err != nil {
		log.Fatalf("Failed to write yields: %v", err)
	}

	if *dataPath != "" {
		store, err := storage.New(*dataPath)
		if err != nil {
			log.Fatalf("Failed to create storage: %v", err)
		}
		defer store.Close()
		if err := storeHistory(store, prices, yields); err != nil {
			log.Fatalf("Failed to store history: %v", err)
		}
	}

	fmt.Printf("✓ Generated %d price rows and %d yield rows\n", len(prices)-1, len(yields)-1)
}

// generatePrices simulates a mean-reverting daily price per category and
// country with a rainy-season dip.
func generatePrices(rng *rand.Rand, base float64, start, end time.Time) [][]string {
	rows := [][]string{{"category_id", "quantity", "country_id", "county_id", "season", "unit", "date", "price"}}
	for cat := int64(1); cat <= int64(len(domain.CropTypes)); cat++ {
		for country := int64(1); country <= 3; country++ {
			level := base * (0.6 + 0.2*float64(cat))
			price := level
			for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
				season := "dry"
				if m := day.Month(); (m >= 3 && m <= 5) || (m >= 10 && m <= 12) {
					season = "rainy"
				}
				target := level
				if season == "rainy" {
					target *= 0.9
				}
				price += 0.1*(target-price) + rng.NormFloat64()*level*0.02
				price = math.Max(price, 1)
				qty := math.Round(10 + rng.Float64()*490)
				rows = append(rows, []string{
					id(cat), ftoa(qty), id(country), id(1 + rng.Int64N(5)), season, "kg",
					day.Format("2006-01-02"), ftoa(math.Round(price*100) / 100),
				})
			}
		}
	}
	return rows
}

// generateYields simulates one harvest per season with a trailing
// three-year average column.
func generateYields(rng *rand.Rand, from, to int) [][]string {
	rows := [][]string{{"user_id", "category_id", "country_id", "county_id", "date", "historical_yield_3yr_avg", "yield"}}
	for cat := int64(1); cat <= int64(len(domain.CropTypes)); cat++ {
		for country := int64(1); country <= 3; country++ {
			var history []float64
			for year := from; year < to; year++ {
				y := math.Max(0.5, 2+0.3*float64(cat)+rng.NormFloat64()*0.4)
				avg := ""
				if n := len(history); n > 0 {
					window := history[max(0, n-3):]
					sum := 0.0
					for _, v := range window {
						sum += v
					}
					avg = ftoa(math.Round(sum/float64(len(window))*1000) / 1000)
				}
				rows = append(rows, []string{
					id(100 + cat), id(cat), id(country), "1",
					time.Date(year, time.March, 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02"),
					avg, ftoa(math.Round(y*1000) / 1000),
				})
				history = append(history, y)
			}
		}
	}
	return rows
}

func storeHistory(store *storage.Store, prices, yields [][]string) error {
	ctx := context.Background()
	for _, r := range prices[1:] {
		at, _ := time.Parse("2006-01-02", r[6])
		price, _ := strconv.ParseFloat(r[7], 64)
		rec := storage.PriceRecord{CategoryID: atoi(r[0]), CountryID: atoi(r[2]), CountyID: atoi(r[3]), Price: price, ObservedAt: at}
		if err := store.StorePrice(ctx, rec); err != nil {
			return fmt.Errorf("failed to store price: %w", err)
		}
	}
	for _, r := range yields[1:] {
		at, _ := time.Parse("2006-01-02", r[4])
		y, _ := strconv.ParseFloat(r[6], 64)
		rec := storage.YieldRecord{CategoryID: atoi(r[1]), CountryID: atoi(r[2]), CountyID: atoi(r[3]), Year: at.Year(), Yield: y}
		if err := store.StoreYield(ctx, rec); err != nil {
			return fmt.Errorf("failed to store yield: %w", err)
		}
	}
	return nil
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.Sync()
}

func id(v int64) string     { return strconv.FormatInt(v, 10) }
func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func atoi(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
