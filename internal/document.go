package internal

import (
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is the live page held by the server. The renderer mutates the
// node tree in place and the HTTP layer serializes it on demand; the mutex
// keeps the two apart. Only the renderer writes.
type Document struct {
	mu   sync.RWMutex
	root *html.Node

	head *html.Node
	body *html.Node
}

// NewDocument builds the page skeleton once per session. Every element the
// renderer touches is present from the start, apart from the status
// indicator, clan badge and effect scripts which are inserted on first use.
func NewDocument(title string) *Document {
	doc := &Document{}

	doc.root = &html.Node{Type: html.DocumentNode}

	doctype := &html.Node{Type: html.DoctypeNode, Data: "html"}
	doc.root.AppendChild(doctype)

	root := newElement("html", "data-theme", "dark")
	doc.root.AppendChild(root)

	doc.head = newElement("head")
	root.AppendChild(doc.head)

	meta := newElement("meta", "charset", "utf-8")
	doc.head.AppendChild(meta)

	titleNode := newElement("title")
	titleNode.AppendChild(newText(title))
	doc.head.AppendChild(titleNode)

	doc.body = newElement("body")
	root.AppendChild(doc.body)

	overlay := newElement("div", "class", "loading-overlay")
	message := newElement("div", "class", "overlay-message")
	message.AppendChild(newText("Loading..."))
	overlay.AppendChild(message)
	doc.body.AppendChild(overlay)

	page := newElement("main", "class", "profile")
	doc.body.AppendChild(page)

	avatarWrapper := newElement("div", "class", "avatar-wrapper")
	avatarWrapper.AppendChild(newElement("img", "class", "avatar", "alt", "Avatar"))
	avatarWrapper.AppendChild(newElement("img", "class", "avatar-decoration hidden", "alt", ""))

	for _, platform := range []string{"mobile", "desktop", "web"} {
		avatarWrapper.AppendChild(newElement("span", "class", "platform-icon "+platform+"-only hidden"))
	}

	page.AppendChild(avatarWrapper)

	userInfo := newElement("div", "class", "user-info")
	userInfo.AppendChild(newElement("span", "class", "username"))
	userInfo.AppendChild(newElement("div", "class", "custom-status"))
	userInfo.AppendChild(newElement("div", "class", "timezone hidden"))
	page.AppendChild(userInfo)

	page.AppendChild(newElement("ul", "class", "activities"))

	reviews := newElement("section", "class", "reviews hidden")
	reviews.AppendChild(newElement("ul", "class", "review-list"))
	page.AppendChild(reviews)

	return doc
}

// Update runs fn with the write lock held. All renderer mutations go
// through here so a serialize can never observe a half-applied snapshot.
func (doc *Document) Update(fn func()) {
	doc.mu.Lock()
	defer doc.mu.Unlock()

	fn()
}

// SetMetadata records the presence configuration as data attributes on
// the head element. Empty values leave the attribute unset.
func (doc *Document) SetMetadata(userID, instanceURI, badgeAPI string) {
	doc.mu.Lock()
	defer doc.mu.Unlock()

	if userID != "" {
		setAttr(doc.head, "data-user-id", userID)
	}

	if instanceURI != "" {
		setAttr(doc.head, "data-instance-uri", instanceURI)
	}

	if badgeAPI != "" {
		setAttr(doc.head, "data-badge-api", badgeAPI)
	}
}

// Serialize writes the document as HTML.
func (doc *Document) Serialize(w io.Writer) error {
	doc.mu.RLock()
	defer doc.mu.RUnlock()

	return html.Render(w, doc.root)
}

// Head returns the head element. Callers must hold the document lock via
// Update.
func (doc *Document) Head() *html.Node {
	return doc.head
}

// Body returns the body element. Callers must hold the document lock via
// Update.
func (doc *Document) Body() *html.Node {
	return doc.body
}

func newElement(tag string, attrPairs ...string) *html.Node {
	node := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}

	for i := 0; i+1 < len(attrPairs); i += 2 {
		node.Attr = append(node.Attr, html.Attribute{Key: attrPairs[i], Val: attrPairs[i+1]})
	}

	return node
}

func newText(text string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: text}
}

func getAttr(node *html.Node, key string) string {
	for _, attr := range node.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}

	return ""
}

func setAttr(node *html.Node, key, value string) {
	for i := range node.Attr {
		if node.Attr[i].Key == key {
			node.Attr[i].Val = value

			return
		}
	}

	node.Attr = append(node.Attr, html.Attribute{Key: key, Val: value})
}

func removeAttr(node *html.Node, key string) {
	for i := range node.Attr {
		if node.Attr[i].Key == key {
			node.Attr = append(node.Attr[:i], node.Attr[i+1:]...)

			return
		}
	}
}

func hasClass(node *html.Node, class string) bool {
	for _, existing := range strings.Fields(getAttr(node, "class")) {
		if existing == class {
			return true
		}
	}

	return false
}

func addClass(node *html.Node, class string) {
	if hasClass(node, class) {
		return
	}

	existing := getAttr(node, "class")
	if existing == "" {
		setAttr(node, "class", class)
	} else {
		setAttr(node, "class", existing+" "+class)
	}
}

func removeClass(node *html.Node, class string) {
	fields := strings.Fields(getAttr(node, "class"))
	kept := fields[:0]

	for _, existing := range fields {
		if existing != class {
			kept = append(kept, existing)
		}
	}

	setAttr(node, "class", strings.Join(kept, " "))
}

func setClassVisible(node *html.Node, visible bool) {
	if visible {
		removeClass(node, "hidden")
	} else {
		addClass(node, "hidden")
	}
}

// findByClass walks the subtree depth first and returns the first element
// carrying the class.
func findByClass(root *html.Node, class string) *html.Node {
	if root == nil {
		return nil
	}

	if root.Type == html.ElementNode && hasClass(root, class) {
		return root
	}

	for child := root.FirstChild; child != nil; child = child.NextSibling {
		if found := findByClass(child, class); found != nil {
			return found
		}
	}

	return nil
}

// findAllByClass collects every element in the subtree carrying the class.
func findAllByClass(root *html.Node, class string) []*html.Node {
	var found []*html.Node

	var walk func(node *html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && hasClass(node, class) {
			found = append(found, node)
		}

		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}

	if root != nil {
		walk(root)
	}

	return found
}

func removeChildren(node *html.Node) {
	for node.FirstChild != nil {
		node.RemoveChild(node.FirstChild)
	}
}

func setText(node *html.Node, text string) {
	removeChildren(node)
	node.AppendChild(newText(text))
}

func detach(node *html.Node) {
	if node.Parent != nil {
		node.Parent.RemoveChild(node)
	}
}
