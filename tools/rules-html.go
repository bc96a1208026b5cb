// Package tools renders authored rule sets as HTML documentation.
package tools

import (
	"fmt"
	"html"
	"io"
	"os"
	"sort"

	"github.com/Qwiery/qwiery-sub001/rules"
	. "github.com/Qwiery/qwiery-sub001/util/testutil"

	md "github.com/russross/blackfriday/v2"
)

// RenderRulesHTML writes one table of rules.  String answers are
// treated as Markdown; structured answers (directive trees,
// redirects, workflows) are shown as JSON.
func RenderRulesHTML(items []*rules.Item, out io.Writer) error {
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}

	f(`<div class="rules"><table>`)

	for _, item := range items {
		f(`<tr class="rule"><td><span id="%s" class="ruleId">%s</span></td><td>`,
			html.EscapeString(item.Id), html.EscapeString(item.Id))

		f(`<div class="questions">`)
		for _, q := range item.Questions {
			f(`<div class="question"><code>%s</code></div>`, html.EscapeString(q))
		}
		f(`</div>`)

		if item.Category != "" {
			f(`<div class="category">%s</div>`, html.EscapeString(item.Category))
		}
		for _, topic := range item.Topics {
			f(`<span class="topic">%s</span>`, html.EscapeString(topic))
		}

		if item.Template != nil {
			if target, is := item.Template.Redirect(); is {
				f(`<div class="redirect">&rarr; <code>%s</code></div>`,
					html.EscapeString(target))
			} else if s, is := item.Template.Answer.(string); is {
				f(`<div class="answer doc">%s</div>`, md.Run([]byte(s)))
			} else {
				f(`<div class="answer code"><pre>%s</pre></div>`,
					html.EscapeString(JSPretty(item.Template.Answer)))
			}
			if item.Template.Think != nil {
				f(`<div class="think code"><pre>%s</pre></div>`,
					html.EscapeString(JSPretty(item.Template.Think)))
			}
		}

		f(`</td></tr>`)
	}

	f(`</table></div>`)

	return nil
}

// RenderRulesPage writes a complete HTML page for a rule set, grouped
// by category.
func RenderRulesPage(title string, items []*rules.Item, out io.Writer, cssFiles []string) error {
	if cssFiles == nil {
		cssFiles = []string{"/static/rules-html.css"}
	}

	fmt.Fprintf(out, `<!DOCTYPE html>
<meta charset="utf-8">
<html>
  <head>
  <title>%s</title>
`, html.EscapeString(title))

	for _, cssFile := range cssFiles {
		fmt.Fprintf(out, "  <link href=\"%s\" rel=\"stylesheet\">\n", cssFile)
	}

	fmt.Fprintf(out, `
  </head>
  <body>
    <h1>%s</h1>
`, html.EscapeString(title))

	for _, category := range categories(items) {
		if category != "" {
			fmt.Fprintf(out, `<h2 class="category">%s</h2>`+"\n",
				html.EscapeString(category))
		}
		var subset []*rules.Item
		for _, item := range items {
			if rules.Canon(item.Category) == category {
				subset = append(subset, item)
			}
		}
		if err := RenderRulesHTML(subset, out); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, `
  </body>
</html>
`)

	return nil
}

// categories returns the distinct canonical categories, sorted, with
// the uncategorized group ("") first when present.
func categories(items []*rules.Item) []string {
	seen := make(map[string]bool)
	for _, item := range items {
		seen[rules.Canon(item.Category)] = true
	}
	acc := make([]string, 0, len(seen))
	for c := range seen {
		acc = append(acc, c)
	}
	sort.Strings(acc)
	return acc
}

// ReadAndRenderRulesPage reads an authored rule document (YAML or
// JSON) and renders its page.
func ReadAndRenderRulesPage(filename, title string, cssFiles []string, out io.Writer) error {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	items, err := rules.ParseItems(bs)
	if err != nil {
		return err
	}
	if title == "" {
		title = filename
	}
	return RenderRulesPage(title, items, out, cssFiles)
}
