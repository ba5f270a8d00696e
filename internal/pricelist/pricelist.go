// Package pricelist imports catalog products from supplier price lists,
// either plain text or PDF.
package pricelist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/bakirov/instashop/internal/storage"
)

// Item is one parsed price-list line.
type Item struct {
	Name  string
	Price int64
}

// lineFormat matches "<name> - <price>" with an optional currency suffix,
// e.g. "Триммер Wahl — 3500 сом" or "Машинка Moser: 4200".
var lineFormat = regexp.MustCompile(`^(.+?)\s*[-—–:]\s*(\d+)\s*(?:сом|kgs)?\s*$`)

// ParseFile parses a price list, dispatching on extension. Only ".pdf" is
// treated specially; anything else is read as plain text.
func ParseFile(path string) ([]Item, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return ParsePDF(path)
	}
	return parseTextFile(path)
}

// ParsePDF extracts the plain text of a PDF price list and parses it.
func ParsePDF(path string) ([]Item, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extracting pdf text: %w", err)
	}
	return ParseText(text)
}

func parseTextFile(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening price list: %w", err)
	}
	defer f.Close()
	return ParseText(f)
}

// ParseText parses price lines from the reader. Lines that do not look like
// a priced item (headers, page numbers, blanks) are skipped.
func ParseText(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := lineFormat.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		price, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil || price < 0 {
			continue
		}
		items = append(items, Item{Name: strings.TrimSpace(m[1]), Price: price})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading price list: %w", err)
	}
	if len(items) == 0 {
		return nil, errors.New("no priced items found")
	}
	return items, nil
}

// Catalog is the storage surface the importer writes through.
type Catalog interface {
	GetProductByName(name string) (storage.Product, error)
	CreateProduct(prod storage.Product) (int64, error)
}

// Import creates a product for every item whose name is not yet in the
// catalog. Existing names are left untouched, so re-importing the same list
// is safe.
func Import(cat Catalog, items []Item) (created, skipped int, err error) {
	for _, item := range items {
		_, err := cat.GetProductByName(item.Name)
		if err == nil {
			skipped++
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return created, skipped, fmt.Errorf("looking up %q: %w", item.Name, err)
		}
		_, err = cat.CreateProduct(storage.Product{
			Name:      item.Name,
			Price:     item.Price,
			Available: true,
		})
		if err != nil {
			return created, skipped, fmt.Errorf("creating %q: %w", item.Name, err)
		}
		created++
	}
	return created, skipped, nil
}
