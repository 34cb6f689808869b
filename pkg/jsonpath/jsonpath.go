// Package jsonpath queries saved JSON documents with either JSONPath-style
// expressions ($.summary.latency.p95) or native gjson paths.
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Query returns the value at path in doc.
func Query(doc []byte, path string) (gjson.Result, error) {
	if len(doc) == 0 {
		return gjson.Result{}, fmt.Errorf("empty JSON document")
	}
	if !gjson.ValidBytes(doc) {
		return gjson.Result{}, fmt.Errorf("invalid JSON document")
	}
	if strings.TrimSpace(path) == "" {
		return gjson.Result{}, fmt.Errorf("empty path expression")
	}

	result := gjson.GetBytes(doc, ToGjsonPath(path))
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("path not found: %s", path)
	}
	return result, nil
}

// Extract returns the value at path as a string. JSON null is returned as "null".
func Extract(doc []byte, path string) (string, error) {
	result, err := Query(doc, path)
	if err != nil {
		return "", err
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// ExtractMultiple extracts every path in order. Missing paths are reported
// together after all others have been extracted.
func ExtractMultiple(doc []byte, paths []string) (map[string]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no path expressions provided")
	}

	results := make(map[string]string, len(paths))
	var errs []string
	for _, path := range paths {
		value, err := Extract(doc, path)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		results[path] = value
	}

	if len(errs) > 0 {
		return results, fmt.Errorf("extraction errors: %s", strings.Join(errs, "; "))
	}
	return results, nil
}

// ToGjsonPath converts a JSONPath expression to gjson syntax. Paths that do
// not start with '$' are assumed to be gjson already.
//
//	$.thresholds[0].passed   -> thresholds.0.passed
//	$['summary']['rps']      -> summary.rps
//	$                        -> @this
func ToGjsonPath(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "$") {
		return path
	}

	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return "@this"
	}

	var sb strings.Builder
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '.':
			if sb.Len() > 0 {
				sb.WriteByte('.')
			}
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				sb.WriteString(path[i:])
				return sb.String()
			}
			key := strings.Trim(path[i+1:i+end], `'"`)
			if sb.Len() > 0 {
				sb.WriteByte('.')
			}
			sb.WriteString(key)
			i += end
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
