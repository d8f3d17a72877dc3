package chunk

// extractName pulls the declared name out of a declaration node.
// Returns "" when the node carries no usable identifier.
func extractName(n *Node, source []byte, language string) string {
	switch language {
	case "go":
		return extractGoName(n, source)
	case "javascript", "typescript", "tsx":
		return extractJSName(n, source)
	default:
		return firstIdentifier(n, source)
	}
}

// firstIdentifier finds the first direct child that looks like a name.
func firstIdentifier(n *Node, source []byte) string {
	for _, child := range n.Children {
		switch child.Type {
		case "identifier", "type_identifier", "field_identifier", "constant":
			return child.Content(source)
		}
	}
	return ""
}

func extractGoName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		if c := n.FindChild("identifier"); c != nil {
			return c.Content(source)
		}
	case "method_declaration":
		if c := n.FindChild("field_identifier"); c != nil {
			return c.Content(source)
		}
	case "type_declaration":
		if spec := n.FindChild("type_spec"); spec != nil {
			if c := spec.FindChild("type_identifier"); c != nil {
				return c.Content(source)
			}
		}
	case "const_declaration":
		return specIdentifier(n, source, "const_spec")
	case "var_declaration":
		return specIdentifier(n, source, "var_spec")
	}
	return ""
}

// specIdentifier handles grouped Go const/var blocks: the first spec's
// identifier names the declaration.
func specIdentifier(n *Node, source []byte, specType string) string {
	if spec := n.FindChild(specType); spec != nil {
		if c := spec.FindChild("identifier"); c != nil {
			return c.Content(source)
		}
	}
	return ""
}

func extractJSName(n *Node, source []byte) string {
	// const f = () => {} and var g = function() {} name the declarator.
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		if decl := n.FindChild("variable_declarator"); decl != nil {
			if c := decl.FindChild("identifier"); c != nil {
				return c.Content(source)
			}
		}
		return ""
	}

	for _, child := range n.Children {
		switch child.Type {
		case "identifier", "type_identifier", "property_identifier":
			return child.Content(source)
		}
	}
	return ""
}

// declaresFunction reports whether a JS/TS variable declaration binds a
// function value, which upgrades its symbol kind from variable to function.
func declaresFunction(n *Node) bool {
	if n.Type != "lexical_declaration" && n.Type != "variable_declaration" {
		return false
	}
	decl := n.FindChild("variable_declarator")
	if decl == nil {
		return false
	}
	for _, child := range decl.Children {
		switch child.Type {
		case "arrow_function", "function", "function_expression":
			return true
		}
	}
	return false
}
