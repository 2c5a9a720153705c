package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExtractTexts pulls document texts out of a freeform manifest. Accepted
// shapes, in the order they are tried per item:
//   - a plain list of strings
//   - a list of objects with content: {title, text|content|body}
//   - a list of objects with a top-level text|content|body string
//   - an object with documents: [strings]
//   - an object with a single text|content|body string
func ExtractTexts(data any) []string {
	switch v := data.(type) {
	case []any:
		var texts []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				texts = append(texts, s)
				continue
			}
			obj, ok := toStringMap(item)
			if !ok {
				continue
			}
			if content, ok := toStringMap(obj["content"]); ok {
				if body, ok := firstString(content, "text", "content", "body"); ok {
					if title, ok := content["title"].(string); ok && strings.TrimSpace(title) != "" {
						texts = append(texts, strings.TrimSpace(title)+"\n"+body)
					} else {
						texts = append(texts, body)
					}
					continue
				}
			}
			if body, ok := firstString(obj, "text", "content", "body"); ok {
				texts = append(texts, body)
			}
		}
		return texts

	case map[string]any:
		if docs, ok := v["documents"].([]any); ok {
			var texts []string
			for _, d := range docs {
				if s, ok := d.(string); ok {
					texts = append(texts, s)
				}
			}
			return texts
		}
		if body, ok := firstString(v, "text", "content", "body"); ok {
			return []string{body}
		}
	}
	return nil
}

// LoadFile reads a document manifest. YAML manifests are detected by
// extension; everything else is parsed as JSON.
func LoadFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var data any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("parse yaml manifest %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("parse json manifest %s: %w", path, err)
		}
	}
	return ExtractTexts(data), nil
}

// Seed indexes every text from the manifest at path into the engine.
// Documents are named after the manifest file and their position in it.
func Seed(ctx context.Context, engine *Engine, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	texts, err := LoadFile(path)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		logger.Warn("knowledge manifest yielded no documents", "path", path)
		return nil
	}

	base := filepath.Base(path)
	for i, text := range texts {
		name := fmt.Sprintf("%s#%d", base, i)
		if _, err := engine.AddDocument(ctx, name, text); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
	}
	logger.Info("knowledge base seeded", "path", path, "documents", len(texts))
	return nil
}

func toStringMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			return s, true
		}
	}
	return "", false
}
