package mirtext

import (
	"fmt"

	"github.com/mirvm/mirc/internal/mir"
	"github.com/mirvm/mirc/internal/mirerr"
)

// Parse parses src as the textual MIR module grammar into a
// mir.Module built on ctx. Forward references to later-declared functions
// (a `call %N (...)` where N has not yet been parsed) are resolved after
// the whole source has been scanned, via a pending-calls list.
func Parse(ctx *mir.Context, src string) (*mir.Module, error) {
	p := &parser{lex: newLexer(src), ctx: ctx, mod: mir.NewModule(), blocksByName: map[string]*mir.BasicBlock{}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	for p.tok.kind != tokEOF {
		if err := p.parseFunc(); err != nil {
			return nil, err
		}
	}
	if err := p.resolvePendingCalls(); err != nil {
		return nil, err
	}
	return p.mod, nil
}

type pendingCall struct {
	instr     *mir.Instruction
	funcIndex int
	line, col int
}

type parser struct {
	lex *lexer
	tok token
	ctx *mir.Context
	mod *mir.Module

	// per-function state, reset at the start of each parseFunc
	fn           *mir.Function
	vars         []mir.Variable
	blocksByName map[string]*mir.BasicBlock
	curBlock     *mir.BasicBlock

	pending []pendingCall
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return mirerr.AtPos(mirerr.PhaseParse, p.lex.line, p.lex.col, fmt.Errorf("%w: %v", mirerr.ErrSyntax, err))
	}
	p.tok = t
	return nil
}

func (p *parser) errf(format string, args ...any) error {
	return mirerr.AtPos(mirerr.PhaseParse, p.tok.line, p.tok.col,
		fmt.Errorf("%w: "+format, append([]any{mirerr.ErrSyntax}, args...)...))
}

func (p *parser) expect(k tokenKind, what string) (token, error) {
	if p.tok.kind != k {
		return token{}, p.errf("expected %s, got %q", what, p.tok.text)
	}
	t := p.tok
	return t, p.advance()
}

// parseFunc parses `func %N (T, T, ...) -> T { ... }`.
func (p *parser) parseFunc() error {
	if p.tok.kind != tokKeyword || p.tok.text != "func" {
		return p.errf("expected 'func'")
	}
	if err := p.advance(); err != nil {
		return err
	}
	ref, err := p.expect(tokFuncRef, "%N")
	if err != nil {
		return err
	}
	index := int(ref.num)

	if _, err := p.expect(tokLParen, "("); err != nil {
		return err
	}
	var params []mir.Type
	for p.tok.kind != tokRParen {
		t, err := p.parseType()
		if err != nil {
			return err
		}
		params = append(params, t)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return err
			}
		}
	}
	if err := p.advance(); err != nil { // consume ')'
		return err
	}
	if _, err := p.expect(tokArrow, "->"); err != nil {
		return err
	}
	ret, err := p.parseType()
	if err != nil {
		return err
	}

	sig := p.ctx.FunctionType(ret, params)
	fn := p.ctx.NewFunction(index, sig)
	p.fn = fn
	p.vars = nil
	p.blocksByName = map[string]*mir.BasicBlock{}
	p.curBlock = nil
	for _, pt := range params {
		p.vars = append(p.vars, fn.NewVariable(pt))
	}

	if _, err := p.expect(tokLBrace, "{"); err != nil {
		return err
	}
	for p.tok.kind == tokKeyword && p.tok.text == "var" {
		if err := p.parseVarDecl(); err != nil {
			return err
		}
	}
	for p.tok.kind == tokBlockRef {
		if err := p.parseBlock(); err != nil {
			return err
		}
	}
	if _, err := p.expect(tokRBrace, "}"); err != nil {
		return err
	}
	if index != len(p.mod.Functions) {
		return p.errf("%w: function %%%d declared out of order", mirerr.ErrUnexpectedFuncIndex, index)
	}
	p.mod.AddFunction(fn)
	return nil
}

func (p *parser) parseVarDecl() error {
	if err := p.advance(); err != nil { // 'var'
		return err
	}
	ref, err := p.expect(tokVarRef, "$I")
	if err != nil {
		return err
	}
	typ, err := p.parseType()
	if err != nil {
		return err
	}
	if _, err := p.expect(tokSemicolon, ";"); err != nil {
		return err
	}
	v := p.fn.NewVariable(typ)
	for int(ref.num) >= len(p.vars) {
		p.vars = append(p.vars, mir.Variable{})
	}
	p.vars[ref.num] = v
	return nil
}

func (p *parser) parseType() (mir.Type, error) {
	if p.tok.kind != tokIdent {
		return mir.Invalid, p.errf("expected type name, got %q", p.tok.text)
	}
	t, ok := typeByName[p.tok.text]
	if !ok {
		return mir.Invalid, p.errf("%w: unknown type %q", mirerr.ErrUnexpectedType, p.tok.text)
	}
	return t, p.advance()
}

func (p *parser) block(name string) *mir.BasicBlock {
	if b, ok := p.blocksByName[name]; ok {
		return b
	}
	b := p.fn.NewBlock()
	p.blocksByName[name] = b
	return b
}

func (p *parser) parseBlock() error {
	ref, err := p.expect(tokBlockRef, "@B")
	if err != nil {
		return err
	}
	if _, err := p.expect(tokColon, ":"); err != nil {
		return err
	}
	p.curBlock = p.block(ref.text)
	for p.tok.kind != tokBlockRef && p.tok.kind != tokRBrace {
		if err := p.parseStmt(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseStmt() error {
	switch {
	case p.tok.kind == tokVarRef:
		return p.parseAssignStmt()
	case p.tok.kind == tokKeyword:
		switch p.tok.text {
		case "br":
			return p.parseBr()
		case "br_if":
			return p.parseBrIf()
		case "switch":
			return p.parseSwitch()
		case "call":
			if _, err := p.parseCallExpr(false); err != nil {
				return err
			}
			_, err := p.expect(tokSemicolon, ";")
			return err
		case "icall":
			if _, err := p.parseCallExpr(true); err != nil {
				return err
			}
			_, err := p.expect(tokSemicolon, ";")
			return err
		case "store":
			return p.parseStore()
		case "return":
			return p.parseReturn()
		}
	}
	return p.errf("unexpected statement start %q", p.tok.text)
}

func (p *parser) parseAssignStmt() error {
	ref, err := p.expect(tokVarRef, "$I")
	if err != nil {
		return err
	}
	if _, err := p.expect(tokEq, "="); err != nil {
		return err
	}
	val, err := p.parseExpr()
	if err != nil {
		return err
	}
	if _, err := p.expect(tokSemicolon, ";"); err != nil {
		return err
	}
	if int(ref.num) >= len(p.vars) {
		return p.errf("assignment to undeclared variable $%d", ref.num)
	}
	p.fn.EmitDAssign(p.curBlock, p.vars[ref.num], val)
	return nil
}

func (p *parser) parseBr() error {
	if err := p.advance(); err != nil {
		return err
	}
	ref, err := p.expect(tokBlockRef, "@B")
	if err != nil {
		return err
	}
	if _, err := p.expect(tokSemicolon, ";"); err != nil {
		return err
	}
	p.fn.EmitJump(p.curBlock, p.block(ref.text))
	return nil
}

func (p *parser) parseBrIf() error {
	if err := p.advance(); err != nil {
		return err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return err
	}
	if _, err := p.expect(tokComma, ","); err != nil {
		return err
	}
	t, err := p.expect(tokBlockRef, "@T")
	if err != nil {
		return err
	}
	if _, err := p.expect(tokComma, ","); err != nil {
		return err
	}
	f, err := p.expect(tokBlockRef, "@F")
	if err != nil {
		return err
	}
	if _, err := p.expect(tokSemicolon, ";"); err != nil {
		return err
	}
	p.fn.EmitBrIf(p.curBlock, cond, p.block(t.text), p.block(f.text))
	return nil
}

func (p *parser) parseSwitch() error {
	if err := p.advance(); err != nil {
		return err
	}
	scrut, err := p.parseExpr()
	if err != nil {
		return err
	}
	if _, err := p.expect(tokComma, ","); err != nil {
		return err
	}
	def, err := p.expect(tokBlockRef, "@D")
	if err != nil {
		return err
	}
	if _, err := p.expect(tokLBracket, "["); err != nil {
		return err
	}
	targets := map[int64]*mir.BasicBlock{}
	var maxCase int64 = -1
	for p.tok.kind != tokRBracket {
		n, err := p.expect(tokNumber, "case value")
		if err != nil {
			return err
		}
		if _, err := p.expect(tokArrow, "->"); err != nil {
			return err
		}
		b, err := p.expect(tokBlockRef, "@B")
		if err != nil {
			return err
		}
		targets[n.num] = p.block(b.text)
		if n.num > maxCase {
			maxCase = n.num
		}
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return err
			}
		}
	}
	if err := p.advance(); err != nil { // ']'
		return err
	}
	if _, err := p.expect(tokSemicolon, ";"); err != nil {
		return err
	}
	dense := make([]*mir.BasicBlock, maxCase+2)
	defBlock := p.block(def.text)
	for i := range dense {
		dense[i] = defBlock
	}
	for k, b := range targets {
		dense[k] = b
	}
	dense[len(dense)-1] = defBlock
	p.fn.EmitSwitch(p.curBlock, scrut, dense)
	return nil
}

func (p *parser) parseStore() error {
	if err := p.advance(); err != nil {
		return err
	}
	if _, err := p.expect(tokLParen, "("); err != nil {
		return err
	}
	base, err := p.parseExpr()
	if err != nil {
		return err
	}
	if _, err := p.expect(tokComma, ","); err != nil {
		return err
	}
	val, err := p.parseExpr()
	if err != nil {
		return err
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return err
	}
	if _, err := p.expect(tokSemicolon, ";"); err != nil {
		return err
	}
	p.fn.EmitStore(p.curBlock, base, nil, val, 1, 0)
	return nil
}

func (p *parser) parseReturn() error {
	if err := p.advance(); err != nil {
		return err
	}
	var vals []mir.Value
	if p.tok.kind != tokSemicolon {
		v, err := p.parseExpr()
		if err != nil {
			return err
		}
		vals = append(vals, v)
		for p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return err
			}
			v, err := p.parseExpr()
			if err != nil {
				return err
			}
			vals = append(vals, v)
		}
	}
	if _, err := p.expect(tokSemicolon, ";"); err != nil {
		return err
	}
	p.fn.EmitReturn(p.curBlock, vals)
	return nil
}

// parseExpr parses one of: $I, const(T, N), op(args...).
func (p *parser) parseExpr() (mir.Value, error) {
	switch p.tok.kind {
	case tokVarRef:
		ref := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		if int(ref.num) >= len(p.vars) {
			return nil, p.errf("read of undeclared variable $%d", ref.num)
		}
		return p.fn.EmitDRead(p.curBlock, p.vars[ref.num]), nil
	case tokIdent:
		name := p.tok.text
		if name == "const" {
			return p.parseConst()
		}
		return p.parseOpExpr(name)
	case tokKeyword:
		switch p.tok.text {
		case "call":
			return p.parseCallExpr(false)
		case "icall":
			return p.parseCallExpr(true)
		}
	}
	return nil, p.errf("unexpected expression start %q", p.tok.text)
}

func (p *parser) parseConst() (mir.Value, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	typ, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokComma, ","); err != nil {
		return nil, err
	}
	var val mir.Value
	if typ.IsFloat() {
		n, err := p.expect(tokFloat, "float literal")
		if err != nil {
			if n2, err2 := p.expect(tokNumber, "float literal"); err2 == nil {
				if typ == mir.F32 {
					val = p.fn.EmitConstFloat32(p.curBlock, float32(n2.num))
				} else {
					val = p.fn.EmitConstFloat64(p.curBlock, float64(n2.num))
				}
			} else {
				return nil, err
			}
		} else {
			if typ == mir.F32 {
				val = p.fn.EmitConstFloat32(p.curBlock, float32(n.flt))
			} else {
				val = p.fn.EmitConstFloat64(p.curBlock, n.flt)
			}
		}
	} else {
		n, err := p.expect(tokNumber, "integer literal")
		if err != nil {
			return nil, err
		}
		val = p.fn.EmitConstInt(p.curBlock, typ, uint64(n.num), true)
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return val, nil
}

func (p *parser) parseOpExpr(name string) (mir.Value, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	op, ok := opByName[name]
	if !ok {
		return nil, p.errf("%w: unknown opcode %q", mirerr.ErrUnsupportedToken, name)
	}
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}

	switch op {
	case mir.OpIcmp, mir.OpFcmp:
		condName, err := p.expect(tokIdent, "condition code")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokComma, ","); err != nil {
			return nil, err
		}
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokComma, ","); err != nil {
			return nil, err
		}
		y, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		if op == mir.OpIcmp {
			cond, ok := icondByName[condName.text]
			if !ok {
				return nil, p.errf("unknown integer condition %q", condName.text)
			}
			return p.fn.EmitIcmp(p.curBlock, cond, x, y), nil
		}
		cond, ok := fcondByName[condName.text]
		if !ok {
			return nil, p.errf("unknown float condition %q", condName.text)
		}
		return p.fn.EmitFcmp(p.curBlock, cond, x, y), nil

	case mir.OpSelect:
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokComma, ","); err != nil {
			return nil, err
		}
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokComma, ","); err != nil {
			return nil, err
		}
		b, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return p.fn.EmitSelect(p.curBlock, a.Type(), cond, a, b), nil

	case mir.OpLoad:
		typ, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokComma, ","); err != nil {
			return nil, err
		}
		base, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return p.fn.EmitLoad(p.curBlock, typ, base, nil, 1, 0), nil

	default:
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			y, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen, ")"); err != nil {
				return nil, err
			}
			return p.fn.EmitBinary(p.curBlock, op, x.Type(), x, y), nil
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		if op.IsConversion() {
			return p.fn.EmitConvert(p.curBlock, op, x.Type(), x), nil
		}
		return p.fn.EmitUnary(p.curBlock, op, x.Type(), x), nil
	}
}

// parseCallExpr parses `call %N (args)` or `icall T (fnptr, args)`.
func (p *parser) parseCallExpr(indirect bool) (mir.Value, error) {
	if err := p.advance(); err != nil { // 'call'/'icall'
		return nil, err
	}
	var resultTyp mir.Type
	var fnPtr mir.Value
	var targetIndex int
	if indirect {
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		resultTyp = t
		if _, err := p.expect(tokLParen, "("); err != nil {
			return nil, err
		}
		fp, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		fnPtr = fp
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	} else {
		ref, err := p.expect(tokFuncRef, "%N")
		if err != nil {
			return nil, err
		}
		targetIndex = int(ref.num)
		if _, err := p.expect(tokLParen, "("); err != nil {
			return nil, err
		}
	}
	var args []mir.Value
	for p.tok.kind != tokRParen {
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.advance(); err != nil { // ')'
		return nil, err
	}
	if indirect {
		return p.fn.EmitICall(p.curBlock, fnPtr, mir.Invalid, resultTyp, args), nil
	}
	instr := p.fn.EmitCall(p.curBlock, int32(targetIndex), mir.Invalid, mir.Invalid, args)
	p.pending = append(p.pending, pendingCall{instr: instr, funcIndex: targetIndex, line: p.tok.line, col: p.tok.col})
	return instr, nil
}

// resolvePendingCalls fixes up each direct call's result type and callee
// signature now that every function in the source has been parsed.
func (p *parser) resolvePendingCalls() error {
	for _, pc := range p.pending {
		if pc.funcIndex < 0 || pc.funcIndex >= len(p.mod.Functions) {
			return mirerr.AtPos(mirerr.PhaseParse, pc.line, pc.col,
				fmt.Errorf("%w: call to %%%d", mirerr.ErrUnresolvedForwardCall, pc.funcIndex))
		}
		callee := p.mod.Functions[pc.funcIndex]
		sig := p.ctx.FunctionTypeOf(callee.Type)
		pc.instr.SetCalleeResolved(callee.Type, sig.Ret)
	}
	return nil
}
