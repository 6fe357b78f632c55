package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FixtureProvider replays recorded backend responses from a directory. A
// request named "policy-analysis" is answered from policy-analysis.json,
// .html or .txt, checked in that order. A .json file holding an object with
// a "tool_calls" key is decoded as a full Result.
type FixtureProvider struct {
	dir string
}

var fixtureExtensions = []string{".json", ".html", ".txt"}

func NewFixtureProvider(dir string) (*FixtureProvider, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("fixture mode requires LLM_FIXTURE_DIR")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fixture path %s is not a directory", dir)
	}
	return &FixtureProvider{dir: dir}, nil
}

func (p *FixtureProvider) Generate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Result{}, errors.New("fixture request requires a name")
	}
	for _, ext := range fixtureExtensions {
		data, err := os.ReadFile(filepath.Join(p.dir, name+ext))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Result{}, err
		}
		if ext == ".json" {
			if result, ok := decodeRecordedResult(data); ok {
				return result, nil
			}
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return Result{}, ErrEmptyResponse
		}
		return Result{Text: text}, nil
	}
	return Result{}, fmt.Errorf("no fixture recorded for %q in %s", name, p.dir)
}

func decodeRecordedResult(data []byte) (Result, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Result{}, false
	}
	if _, ok := probe["tool_calls"]; !ok {
		return Result{}, false
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, false
	}
	return result, true
}
