package search

// ASTNode is one node of the parsed criteria tree. Emit renders the SQL
// fragment via the emitter the parser was constructed with.
type ASTNode interface {
	Emit() (string, error)
}

// ASTAsterisk stands for the bare `*` criteria: match everything.
type ASTAsterisk struct {
	emitter Emitter
}

func (n *ASTAsterisk) Emit() (string, error) { return n.emitter.EmitAsterisk() }

// ASTProperty is a property name on the left-hand side of a relation.
type ASTProperty struct {
	Value string
}

func (n *ASTProperty) Emit() (string, error) { return n.Value, nil }

// ASTQuotedString is a double-quoted literal after escape processing.
type ASTQuotedString struct {
	Value string
}

func (n *ASTQuotedString) Emit() (string, error) { return n.Value, nil }

// ASTBoolean is the rhs of an exists relation.
type ASTBoolean struct {
	Value string
}

func (n *ASTBoolean) Emit() (string, error) { return n.Value, nil }

// ASTParenthesis wraps a bracketed subtree.
type ASTParenthesis struct {
	emitter Emitter
	Inner   ASTNode
}

func (n *ASTParenthesis) Emit() (string, error) {
	inner, err := n.Inner.Emit()
	if err != nil {
		return "", err
	}
	return n.emitter.EmitParenthesis(inner)
}

// ASTCompareExpression is `property <op> "value"` with op one of
// = != < <= > >=.
type ASTCompareExpression struct {
	emitter  Emitter
	Property *ASTProperty
	Op       string
	Value    *ASTQuotedString
}

func (n *ASTCompareExpression) Emit() (string, error) {
	return n.emitter.EmitCompare(n.Op, n.Property.Value, n.Value.Value)
}

// ASTStringExpression is `property contains|doesNotContain|startsWith|
// derivedFrom "value"`.
type ASTStringExpression struct {
	emitter  Emitter
	Property *ASTProperty
	Op       string
	Value    *ASTQuotedString
}

func (n *ASTStringExpression) Emit() (string, error) {
	return n.emitter.EmitStringOp(n.Op, n.Property.Value, n.Value.Value)
}

// ASTExistsExpression is `property exists true|false`.
type ASTExistsExpression struct {
	emitter  Emitter
	Property *ASTProperty
	Value    *ASTBoolean
}

func (n *ASTExistsExpression) Emit() (string, error) {
	return n.emitter.EmitExists(n.Property.Value, n.Value.Value)
}

// ASTAndOperator joins two subtrees with AND.
type ASTAndOperator struct {
	emitter Emitter
	LHS     ASTNode
	RHS     ASTNode
}

func (n *ASTAndOperator) Emit() (string, error) {
	lhs, err := n.LHS.Emit()
	if err != nil {
		return "", err
	}
	rhs, err := n.RHS.Emit()
	if err != nil {
		return "", err
	}
	return n.emitter.EmitAnd(lhs, rhs)
}

// ASTOrOperator joins two subtrees with OR.
type ASTOrOperator struct {
	emitter Emitter
	LHS     ASTNode
	RHS     ASTNode
}

func (n *ASTOrOperator) Emit() (string, error) {
	lhs, err := n.LHS.Emit()
	if err != nil {
		return "", err
	}
	rhs, err := n.RHS.Emit()
	if err != nil {
		return "", err
	}
	return n.emitter.EmitOr(lhs, rhs)
}
