// Package search 按“可见文本”定位 HTML 元素。
//
// 目标站点的表格/区块通常没有稳定的 id 或 class，唯一可靠的锚点是
// 行首的标签文本（例如 "Total Revenue"），因此这里只依赖三种能力：
// 按 tag+属性过滤、取全文本、按文档顺序向后遍历。
package search

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Query 描述一次文本锚定查找。
type Query struct {
	// Tag 精确匹配元素名（区分大小写；HTML 解析器产出的元素名均为小写）。
	Tag string
	// Text 在元素全文本（含后代）中做区分大小写的子串匹配。
	Text string
	// Attrs 要求候选元素满足全部键值。class 按空白分隔的 token 或整串匹配。
	Attrs map[string]string
	// Skip>0 时，从命中元素起向后再走 Skip 个同名元素（文档顺序，不限于兄弟节点）。
	Skip int
	// Scope 可选的 CSS 选择器，仅在其匹配到的子树内寻找候选（含匹配元素本身）。
	Scope string
}

// FindParentByText 在整个文档中查找；未找到返回 nil。
func FindParentByText(doc *goquery.Document, tag, text string, attrs map[string]string, skip int) *goquery.Selection {
	if doc == nil {
		return nil
	}
	sel, ok := Find(doc.Selection, Query{Tag: tag, Text: text, Attrs: attrs, Skip: skip})
	if !ok {
		return nil
	}
	return sel
}

// Find 在 root 的后代中查找第一个满足 q 的元素。
//
// 约束：
// - 候选按文档顺序遍历，扫描完全部候选才判定“未找到”
// - Skip 越过文档末尾视为未找到
// - 只读，不修改文档
func Find(root *goquery.Selection, q Query) (*goquery.Selection, bool) {
	sel, ok, _ := FindE(root, q)
	return sel, ok
}

// FindE 与 Find 相同，但会返回参数错误（目前只有非法的 Scope 选择器）。
func FindE(root *goquery.Selection, q Query) (*goquery.Selection, bool, error) {
	if root == nil || q.Tag == "" {
		return nil, false, nil
	}

	roots := root.Nodes
	scoped := strings.TrimSpace(q.Scope) != ""
	if scoped {
		m, err := cascadia.Compile(q.Scope)
		if err != nil {
			return nil, false, fmt.Errorf("scope 选择器无效 %q: %w", q.Scope, err)
		}
		roots = root.FindMatcher(m).Nodes
	}

	match := newMatcher(q.Tag, q.Attrs)
	for _, r := range roots {
		var found *html.Node
		walk := walkDescendants
		if scoped {
			// scope 元素本身也是候选。
			walk = walkSelfAndDescendants
		}
		walk(r, func(n *html.Node) bool {
			if !match.Match(n) {
				return true
			}
			if !strings.Contains(nodeText(n), q.Text) {
				return true
			}
			found = n
			return false
		})
		if found == nil {
			continue
		}

		n := found
		for i := 0; i < q.Skip; i++ {
			n = nextByTag(n, q.Tag)
			if n == nil {
				return nil, false, nil
			}
		}
		// Skip 可能走出 root 子树，不能用 root.FindNodes 包装。
		return goquery.NewDocumentFromNode(n).Selection, true, nil
	}
	return nil, false, nil
}

// matcher 实现 goquery.Matcher，便于调用方直接复用同一套过滤规则。
type matcher struct {
	tag   string
	attrs map[string]string
}

var _ goquery.Matcher = matcher{}

func newMatcher(tag string, attrs map[string]string) matcher {
	return matcher{tag: tag, attrs: attrs}
}

// Matcher 返回与 Query.Tag/Attrs 等价的 goquery.Matcher。
func Matcher(tag string, attrs map[string]string) goquery.Matcher {
	return newMatcher(tag, attrs)
}

func (m matcher) Match(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode || n.Data != m.tag {
		return false
	}
	for k, want := range m.attrs {
		got, ok := attr(n, k)
		if !ok {
			return false
		}
		if k == "class" {
			if got != want && !hasToken(got, want) {
				return false
			}
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

// MatchAll 与 cascadia 语义一致：包含 n 本身。
func (m matcher) MatchAll(n *html.Node) []*html.Node {
	var out []*html.Node
	if m.Match(n) {
		out = append(out, n)
	}
	walkDescendants(n, func(c *html.Node) bool {
		if m.Match(c) {
			out = append(out, c)
		}
		return true
	})
	return out
}

func (m matcher) Filter(nodes []*html.Node) []*html.Node {
	var out []*html.Node
	for _, n := range nodes {
		if m.Match(n) {
			out = append(out, n)
		}
	}
	return out
}

// walkDescendants 按先序遍历 root 的后代（不含 root 本身）；fn 返回 false 时停止。
func walkDescendants(root *html.Node, fn func(*html.Node) bool) {
	for n := next(root, root); n != nil; n = next(n, root) {
		if !fn(n) {
			return
		}
	}
}

func walkSelfAndDescendants(root *html.Node, fn func(*html.Node) bool) {
	if !fn(root) {
		return
	}
	walkDescendants(root, fn)
}

// next 返回 n 在先序遍历中的后继；limit 非空时不越出 limit 子树。
func next(n, limit *html.Node) *html.Node {
	if n.FirstChild != nil {
		return n.FirstChild
	}
	for ; n != nil && n != limit; n = n.Parent {
		if n.NextSibling != nil {
			return n.NextSibling
		}
	}
	return nil
}

// nextByTag 返回 n 之后（文档顺序，先进入后代）第一个名为 tag 的元素。
func nextByTag(n *html.Node, tag string) *html.Node {
	for c := next(n, nil); c != nil; c = next(c, nil) {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	if n.Type == html.TextNode {
		return n.Data
	}
	walkDescendants(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasToken(s, tok string) bool {
	for _, f := range strings.Fields(s) {
		if f == tok {
			return true
		}
	}
	return false
}
