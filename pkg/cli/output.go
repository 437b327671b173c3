package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

type OutputOptions struct {
	Format OutputFormat
	Quiet  bool
	Writer io.Writer
}

func NewOutputOptions() *OutputOptions {
	return &OutputOptions{
		Format: OutputTable,
		Writer: os.Stdout,
	}
}

func PrintOutput(data any, opts *OutputOptions) error {
	if opts.Quiet {
		return nil
	}
	out, err := FormatOutput(data, opts.Format)
	if err != nil {
		return err
	}
	fmt.Fprintln(opts.Writer, out)
	return nil
}

func FormatOutput(data any, format OutputFormat) (string, error) {
	switch format {
	case OutputJSON:
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal JSON: %w", err)
		}
		return string(b), nil
	case OutputYAML:
		b, err := yaml.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("marshal YAML: %w", err)
		}
		return string(b), nil
	default:
		return formatTable(data)
	}
}

func formatTable(data any) (string, error) {
	if data == nil {
		return "", nil
	}

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "", nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "No items", nil
		}
		var sb strings.Builder
		w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
		headers := fieldNames(v.Index(0).Interface())
		fmt.Fprintln(w, strings.Join(headers, "\t"))
		for i := 0; i < v.Len(); i++ {
			fmt.Fprintln(w, strings.Join(fieldValues(v.Index(i).Interface(), headers), "\t"))
		}
		w.Flush()
		return strings.TrimRight(sb.String(), "\n"), nil
	case reflect.Struct:
		var sb strings.Builder
		w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
		headers := fieldNames(v.Interface())
		values := fieldValues(v.Interface(), headers)
		for i, h := range headers {
			fmt.Fprintf(w, "%s\t%s\n", h, values[i])
		}
		w.Flush()
		return strings.TrimRight(sb.String(), "\n"), nil
	case reflect.Map:
		var sb strings.Builder
		w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
		iter := v.MapRange()
		for iter.Next() {
			fmt.Fprintf(w, "%v\t%v\n", iter.Key(), iter.Value())
		}
		w.Flush()
		return strings.TrimRight(sb.String(), "\n"), nil
	default:
		return fmt.Sprintf("%v", data), nil
	}
}

func fieldNames(data any) []string {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return []string{"value"}
	}

	t := v.Type()
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}
		names = append(names, jsonName(field))
	}
	return names
}

func fieldValues(data any, names []string) []string {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return []string{fmt.Sprintf("%v", data)}
	}

	byName := make(map[string]string, len(names))
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}
		byName[jsonName(field)] = fmt.Sprintf("%v", v.Field(i).Interface())
	}

	values := make([]string, len(names))
	for i, name := range names {
		values[i] = byName[name]
	}
	return values
}

func jsonName(field reflect.StructField) string {
	name := field.Tag.Get("json")
	if name == "" || name == "-" {
		return field.Name
	}
	if idx := strings.Index(name, ","); idx != -1 {
		name = name[:idx]
	}
	return name
}
