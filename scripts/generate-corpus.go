//go:build ignore

// Package main generates a synthetic JSON Lines product catalog for
// loading with `indexhost index`.
// Usage: go run scripts/generate-corpus.go -docs 10000 -output testdata/catalog.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numDocs = flag.Int("docs", 10000, "Number of documents to generate")
	output  = flag.String("output", "testdata/catalog.jsonl", "Output file (- for stdout)")
	seed    = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var (
	colors     = []string{"red", "blue", "green", "black", "white", "silver", "amber", "teal"}
	materials  = []string{"steel", "oak", "bamboo", "copper", "ceramic", "linen", "walnut", "glass"}
	products   = []string{"widget", "gadget", "lamp", "kettle", "chair", "shelf", "clock", "bottle", "bowl", "desk"}
	categories = []string{"kitchen", "office", "garden", "lighting", "furniture", "storage"}
	adjectives = []string{"compact", "sturdy", "portable", "handmade", "modular", "quiet", "foldable", "classic"}
)

type product struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Price       float64  `json:"price"`
	InStock     bool     `json:"in_stock"`
}

func pick(r *rand.Rand, words []string) string {
	return words[r.Intn(len(words))]
}

func generate(r *rand.Rand, i int) product {
	color, material, name := pick(r, colors), pick(r, materials), pick(r, products)
	adj := pick(r, adjectives)
	return product{
		ID:    fmt.Sprintf("sku-%06d", i),
		Title: strings.Join([]string{adj, color, material, name}, " "),
		Description: fmt.Sprintf("A %s %s made of %s, finished in %s. Fits any %s.",
			adj, name, material, color, pick(r, categories)),
		Category: pick(r, categories),
		Tags:     []string{color, material, name},
		Price:    float64(r.Intn(50000)) / 100,
		InStock:  r.Intn(4) != 0,
	}
}

func main() {
	flag.Parse()
	r := rand.New(rand.NewSource(*seed))

	out := os.Stdout
	if *output != "-" {
		if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
			os.Exit(1)
		}
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create output: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	for i := 0; i < *numDocs; i++ {
		if err := enc.Encode(generate(r, i)); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			os.Exit(1)
		}
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "flush: %v\n", err)
		os.Exit(1)
	}
	if *output != "-" {
		fmt.Fprintf(os.Stderr, "Generated %d documents in %s\n", *numDocs, *output)
	}
}
