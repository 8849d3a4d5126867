// Package index renders a browsable HTML tree of an archive root.
package index

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the index written at the top of every archive root.
const FileName = "index.html"

type node struct {
	Name     string
	Href     string
	Dir      bool
	Children []*node
}

var page = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
ul { list-style: none; padding-left: 1.2em; }
li.folder > details > summary { cursor: pointer; font-weight: bold; }
li.file a { text-decoration: none; }
li.file a:hover { text-decoration: underline; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<ul>
<li class="folder root" data-jstree='{"opened":true,"selected":true}'><details open><summary>{{.Root.Name}}</summary>
{{template "children" .Root}}
</details></li>
</ul>
</body>
</html>
{{define "children"}}<ul>
{{range .Children}}{{if .Dir}}<li class="folder"><details><summary>{{.Name}}</summary>
{{template "children" .}}
</details></li>
{{else}}<li class="file"><a href="{{.Href}}">{{.Name}}</a></li>
{{end}}{{end}}</ul>{{end}}`))

// Build renders the index document for root.
func Build(root, title string) ([]byte, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve archive root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("archive root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("archive root %q is not a directory", abs)
	}

	tree := &node{Name: title, Dir: true}
	if err := walk(abs, abs, tree); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, struct {
		Title string
		Root  *node
	}{Title: title, Root: tree}); err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}
	return buf.Bytes(), nil
}

// Write renders the index and stores it as root/index.html.
func Write(root, title string) (string, error) {
	doc, err := Build(root, title)
	if err != nil {
		return "", err
	}
	target := filepath.Join(root, FileName)
	if err := os.WriteFile(target, doc, 0o644); err != nil {
		return "", fmt.Errorf("write index: %w", err)
	}
	return target, nil
}

func walk(root, dir string, parent *node) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %q: %w", dir, err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if dir == root && e.Name() == FileName {
			continue
		}
		switch {
		case e.IsDir():
			child := &node{Name: e.Name(), Dir: true}
			if err := walk(root, path, child); err != nil {
				return err
			}
			parent.Children = append(parent.Children, child)
		case e.Type().IsRegular():
			rel := strings.TrimPrefix(filepath.ToSlash(strings.TrimPrefix(path, root)), "/")
			parent.Children = append(parent.Children, &node{Name: e.Name(), Href: escapePath(rel)})
		}
	}
	return nil
}

func escapePath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
