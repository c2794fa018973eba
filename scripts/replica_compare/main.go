package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"
)

// volatileFields differ between converged replicas and are ignored.
var volatileFields = map[string]struct{}{
	"version":     {},
	"vectorClock": {},
	"updatedAt":   {},
	"updatedBy":   {},
	"createdAt":   {},
}

type comparison struct {
	DocumentID string
	StatusA    int
	StatusB    int
	Diffs      []string
	Error      error
	DurationA  time.Duration
	DurationB  time.Duration
}

func (c comparison) converged() bool {
	return c.Error == nil && c.StatusA == c.StatusB && len(c.Diffs) == 0
}

func main() {
	var (
		baseA   string
		baseB   string
		token   string
		ids     string
		timeout time.Duration
	)

	flag.StringVar(&baseA, "a", "http://localhost:8080/api/v1", "First replica API base URL")
	flag.StringVar(&baseB, "b", "http://localhost:8081/api/v1", "Second replica API base URL")
	flag.StringVar(&token, "token", os.Getenv("IEP_TOKEN"), "Bearer token")
	flag.StringVar(&ids, "ids", "", "Comma separated IEP ids")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	documentIDs := splitIDs(ids)
	if len(documentIDs) == 0 {
		log.Fatal("no document ids given")
	}

	client := &http.Client{Timeout: timeout}
	diverged := 0
	var results []comparison
	for _, id := range documentIDs {
		res := compareDocument(client, baseA, baseB, token, id)
		if !res.converged() {
			diverged++
		}
		results = append(results, res)
	}

	printReport(os.Stdout, results)
	fmt.Printf("Diverged documents: %d of %d\n", diverged, len(results))
	if diverged > 0 {
		os.Exit(1)
	}
}

func splitIDs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func compareDocument(client *http.Client, baseA, baseB, token, id string) comparison {
	comp := comparison{DocumentID: id}
	statusA, bodyA, durA, errA := fetchDocument(client, baseA, token, id)
	statusB, bodyB, durB, errB := fetchDocument(client, baseB, token, id)
	comp.StatusA, comp.StatusB = statusA, statusB
	comp.DurationA, comp.DurationB = durA, durB
	if errA != nil {
		comp.Error = fmt.Errorf("replica a: %w", errA)
		return comp
	}
	if errB != nil {
		comp.Error = fmt.Errorf("replica b: %w", errB)
		return comp
	}
	diffs, err := diffDocuments(bodyA, bodyB)
	if err != nil {
		comp.Error = err
		return comp
	}
	comp.Diffs = diffs
	return comp
}

func fetchDocument(client *http.Client, base, token, id string) (int, []byte, time.Duration, error) {
	if client == nil {
		return 0, nil, 0, errors.New("nil client")
	}
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(base, "/")+"/ieps/"+id, nil)
	if err != nil {
		return 0, nil, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, time.Since(start), fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, time.Since(start), nil
}

// diffDocuments compares the data of two response envelopes and lists differing field paths.
func diffDocuments(a, b []byte) ([]string, error) {
	var envA, envB struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(a, &envA); err != nil {
		return nil, fmt.Errorf("decode replica a: %w", err)
	}
	if err := json.Unmarshal(b, &envB); err != nil {
		return nil, fmt.Errorf("decode replica b: %w", err)
	}
	var diffs []string
	diffValue("", strip(envA.Data), strip(envB.Data), &diffs)
	sort.Strings(diffs)
	return diffs, nil
}

func strip(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, v2 := range val {
			if _, skip := volatileFields[k]; skip {
				continue
			}
			out[k] = strip(v2)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, v2 := range val {
			out[i] = strip(v2)
		}
		return out
	default:
		return v
	}
}

func diffValue(path string, a, b interface{}, diffs *[]string) {
	mapA, okA := a.(map[string]interface{})
	mapB, okB := b.(map[string]interface{})
	if okA && okB {
		keys := make(map[string]struct{}, len(mapA)+len(mapB))
		for k := range mapA {
			keys[k] = struct{}{}
		}
		for k := range mapB {
			keys[k] = struct{}{}
		}
		for k := range keys {
			diffValue(join(path, k), mapA[k], mapB[k], diffs)
		}
		return
	}
	listA, okA := a.([]interface{})
	listB, okB := b.([]interface{})
	if okA && okB && len(listA) == len(listB) {
		for i := range listA {
			diffValue(join(path, fmt.Sprint(i)), listA[i], listB[i], diffs)
		}
		return
	}
	if !reflect.DeepEqual(a, b) {
		*diffs = append(*diffs, path)
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func printReport(w io.Writer, results []comparison) {
	fmt.Fprintln(w, "Replica Compare Report")
	fmt.Fprintln(w, "======================")
	for _, res := range results {
		status := "CONVERGED"
		if res.Error != nil {
			status = "ERROR"
		} else if !res.converged() {
			status = "DIVERGED"
		}
		fmt.Fprintf(w, "[%s] %s\n", status, res.DocumentID)
		fmt.Fprintf(w, "  A: %d (%s) | B: %d (%s)\n", res.StatusA, res.DurationA, res.StatusB, res.DurationB)
		if res.Error != nil {
			fmt.Fprintf(w, "  Error: %v\n", res.Error)
		}
		for _, d := range res.Diffs {
			fmt.Fprintf(w, "  - %s\n", d)
		}
	}
}
