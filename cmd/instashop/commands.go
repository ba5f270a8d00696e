package main

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bakirov/instashop/internal/ai"
	"github.com/bakirov/instashop/internal/cleanup"
	"github.com/bakirov/instashop/internal/config"
	"github.com/bakirov/instashop/internal/pricelist"
	"github.com/bakirov/instashop/internal/storage"
)

// --- setup ---

// seedProducts is the initial catalog for a fresh installation.
var seedProducts = []storage.Product{
	{Name: "Триммер Wahl", Description: "Профессиональный триммер для окантовки", Category: "триммеры", Price: 3500, Available: true},
	{Name: "Машинка Moser", Description: "Машинка для стрижки с насадками", Category: "машинки", Price: 4200, Available: true},
	{Name: "Триммер Philips", Description: "Компактный триммер для бороды", Category: "триммеры", Price: 2800, Available: true},
	{Name: "Машинка Remington", Description: "Машинка для домашнего использования", Category: "машинки", Price: 1900, Available: true},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Initialize storage and seed the starter catalog",
	Long:  "Creates the database (if missing) and seeds the starter catalog. Run while the server is stopped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		printStep("Opening storage at %s", cfg.Storage.DataDir)
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		created := 0
		for _, p := range seedProducts {
			if _, err := store.GetProductByName(p.Name); err == nil {
				continue
			}
			if _, err := store.CreateProduct(p); err != nil {
				return fmt.Errorf("seeding %q: %w", p.Name, err)
			}
			created++
		}

		printSuccess("Setup complete: %d products seeded", created)
		return nil
	},
}

// --- products ---

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Manage the catalog",
}

var productsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog products",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/admin/products"
		if all {
			path += "?all=true"
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Products []struct {
				ID        int64  `json:"id"`
				Name      string `json:"name"`
				Price     int64  `json:"price"`
				Category  string `json:"category"`
				Available bool   `json:"available"`
			} `json:"products"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Products) == 0 {
			fmt.Println("No products found.")
			return nil
		}

		for _, p := range result.Products {
			marker := " "
			if !p.Available {
				marker = colorize(colorYellow, "×")
			}
			fmt.Printf("%s %s  %s — %d сом\n", marker, colorize(colorCyan, strconv.FormatInt(p.ID, 10)), p.Name, p.Price)
		}
		return nil
	},
}

var productsAddCmd = &cobra.Command{
	Use:   "add <name> <price>",
	Short: "Add a product to the catalog",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || price < 0 {
			return fmt.Errorf("price must be a non-negative integer (som)")
		}
		description, _ := cmd.Flags().GetString("description")
		category, _ := cmd.Flags().GetString("category")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/admin/products", map[string]any{
			"name":        args[0],
			"price":       price,
			"description": description,
			"category":    category,
		})
		if err != nil {
			return err
		}

		var result struct {
			ID int64 `json:"id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Added product %d: %s — %d сом", result.ID, args[0], price)
		return nil
	},
}

var productsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import products from a price list (PDF or text)",
	Long: `Import products from a supplier price list. PDF files are parsed via text
extraction; anything else is read as plain text with one "<name> — <price>"
line per product. Run while the server is stopped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := pricelist.ParseFile(args[0])
		if err != nil {
			return fmt.Errorf("parsing price list: %w", err)
		}
		printStep("Parsed %d items from %s", len(items), args[0])

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		created, skipped, err := pricelist.Import(store, items)
		if err != nil {
			return err
		}
		printSuccess("Imported %d products (%d already present)", created, skipped)
		return nil
	},
}

func init() {
	productsListCmd.Flags().Bool("all", false, "include unavailable products")
	productsAddCmd.Flags().String("description", "", "product description")
	productsAddCmd.Flags().String("category", "", "product category")
	productsCmd.AddCommand(productsListCmd)
	productsCmd.AddCommand(productsAddCmd)
	productsCmd.AddCommand(productsImportCmd)
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store activity statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/admin/stats")
		if err != nil {
			return err
		}

		var st struct {
			TotalSessions     int   `json:"total_sessions"`
			ActiveSessions    int   `json:"active_sessions"`
			MessagesToday     int   `json:"messages_today"`
			TotalPurchases    int   `json:"total_purchases"`
			PurchasesToday    int   `json:"purchases_today"`
			TotalRevenue      int64 `json:"total_revenue"`
			RevenueToday      int64 `json:"revenue_today"`
			TotalProducts     int   `json:"total_products"`
			AvailableProducts int   `json:"available_products"`
		}
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		printStatus("Sessions", "%d total, %d active", st.TotalSessions, st.ActiveSessions)
		printStatus("Messages today", "%d", st.MessagesToday)
		printStatus("Orders", "%d total, %d today", st.TotalPurchases, st.PurchasesToday)
		printStatus("Revenue", "%d сом total, %d сом today", st.TotalRevenue, st.RevenueToday)
		printStatus("Products", "%d available of %d", st.AvailableProducts, st.TotalProducts)
		return nil
	},
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage customer sessions",
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset <sender-id>",
	Short: "Reset a customer's conversation to the idle phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/admin/sessions/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Session %s reset", args[0])
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionResetCmd)
}

// --- cleanup ---

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old messages and stale sessions",
	Long:  "Deletes messages older than --days and idle sessions untouched for 7×--days. Run while the server is stopped; the running server sweeps hourly on its own.",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days < 1 {
			return fmt.Errorf("--days must be at least 1")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		messageAge := time.Duration(days) * 24 * time.Hour
		messages, sessions, err := cleanup.Sweep(store, messageAge, 7*messageAge)
		if err != nil {
			return err
		}

		printSuccess("Deleted %d messages and %d stale sessions", messages, sessions)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Int("days", 1, "delete messages older than this many days")
}

// --- checkai ---

var checkAICmd = &cobra.Command{
	Use:   "checkai",
	Short: "Probe the AI provider and report success rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		if count < 1 {
			count = 1
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		requestTimeout := parseDurationOr(cfg.AI.RequestTimeout, 8*time.Second, "ai.request_timeout")
		probeTimeout := parseDurationOr(cfg.AI.ProbeTimeout, 3*time.Second, "ai.probe_timeout")
		client := ai.NewClientWithBaseURL(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.BaseURL, requestTimeout, probeTimeout)

		printStep("Probing %s with %d calls...", cfg.AI.Model, count)

		var succeeded atomic.Int64
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(3)
		for i := range count {
			g.Go(func() error {
				if err := client.Probe(ctx); err != nil {
					printError("probe %d failed: %v", i+1, err)
					return nil
				}
				succeeded.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		ok := succeeded.Load()
		if ok == int64(count) {
			printSuccess("AI provider healthy: %d/%d probes succeeded", ok, count)
			return nil
		}
		printWarning("AI provider degraded: %d/%d probes succeeded", ok, count)
		return nil
	},
}

func init() {
	checkAICmd.Flags().Int("count", 3, "number of probe calls")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
