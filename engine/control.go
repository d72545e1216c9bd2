package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

func defControl() {
	def(wasm.OpUnreachable, unreachable)
	defPure(wasm.OpNop, nop)
	def(wasm.OpBlock, block)
	def(wasm.OpLoop, loop)
	def(wasm.OpIf, ifOp)
	def(wasm.OpElse, elseOp)
	def(wasm.OpEnd, end)
	def(wasm.OpBr, br)
	def(wasm.OpBrIf, brIf)
	def(wasm.OpBrTable, brTable)
	def(wasm.OpReturn, ret)
	def(wasm.OpCall, call)
	def(wasm.OpCallIndirect, callIndirect)
}

func unreachable(_ *frame, in *wasm.Instruction) error {
	return errors.New(errors.PhaseExecute, errors.KindUnreachable).
		Op(in.Name()).
		Code("unreachable").
		Build()
}

func nop(*frame, *wasm.Instruction) error { return nil }

// signature resolves the block type of a block, loop or if.
func (f *frame) signature(in *wasm.Instruction) (params, results []wasm.ValType, err error) {
	imm, _ := in.Imm.(wasm.BlockImm)
	params, results, ok := f.inst.module.BlockSignature(imm.Type)
	if !ok {
		return nil, nil, errors.Malformed("block.type", in.Offset, fmt.Errorf("invalid block type %d", imm.Type))
	}
	return params, results, nil
}

// enter pushes the label of the block starting at instruction index at.
func (f *frame) enter(in *wasm.Instruction, at int, isLoop bool) error {
	params, results, err := f.signature(in)
	if err != nil {
		return err
	}
	l := Label{Arity: len(results), Results: len(results), Cont: f.code.ends[at] + 1}
	if isLoop {
		l = Label{Arity: len(params), Results: len(results), Cont: at, Loop: true}
	}
	if err := f.stack.Enter(l, len(params)); err != nil {
		return err
	}
	f.depth++
	return nil
}

func block(f *frame, in *wasm.Instruction) error {
	return f.enter(in, f.pc-1, false)
}

func loop(f *frame, in *wasm.Instruction) error {
	return f.enter(in, f.pc-1, true)
}

func ifOp(f *frame, in *wasm.Instruction) error {
	at := f.pc - 1
	cond, err := f.pop(wasm.ValI32)
	if err != nil {
		return operandTrap("control", in, err)
	}
	if err := f.enter(in, at, false); err != nil {
		return err
	}
	if cond.U32() != 0 {
		return nil
	}
	if e := f.code.elses[at]; e >= 0 {
		f.pc = e + 1
	} else {
		f.pc = f.code.ends[at]
	}
	return nil
}

// elseOp is reached when the then arm completes; it skips to the end.
func elseOp(f *frame, _ *wasm.Instruction) error {
	f.pc = f.code.ends[f.pc-1]
	return nil
}

func end(f *frame, _ *wasm.Instruction) error {
	if f.depth == 0 {
		f.pc = len(f.code.instrs)
		return nil
	}
	if _, err := f.stack.Exit(); err != nil {
		return err
	}
	f.depth--
	return nil
}

func br(f *frame, in *wasm.Instruction) error {
	imm, _ := in.Imm.(wasm.BranchImm)
	return f.branch(imm.LabelIdx)
}

func brIf(f *frame, in *wasm.Instruction) error {
	cond, err := f.pop(wasm.ValI32)
	if err != nil {
		return operandTrap("control", in, err)
	}
	if cond.U32() == 0 {
		return nil
	}
	imm, _ := in.Imm.(wasm.BranchImm)
	return f.branch(imm.LabelIdx)
}

func brTable(f *frame, in *wasm.Instruction) error {
	idx, err := f.pop(wasm.ValI32)
	if err != nil {
		return operandTrap("control", in, err)
	}
	imm, _ := in.Imm.(wasm.BrTableImm)
	target := imm.Default
	if i := idx.U32(); uint64(i) < uint64(len(imm.Labels)) {
		target = imm.Labels[i]
	}
	return f.branch(target)
}

func ret(f *frame, _ *wasm.Instruction) error {
	return f.ret()
}

func call(f *frame, in *wasm.Instruction) error {
	imm, _ := in.Imm.(wasm.CallImm)
	if int(imm.FuncIdx) >= len(f.inst.funcs) {
		return errors.Malformed("call.index", in.Offset, fmt.Errorf("function %d out of range", imm.FuncIdx))
	}
	return f.inst.call(f.ctx, f.inst.funcs[imm.FuncIdx])
}

func callIndirect(f *frame, in *wasm.Instruction) error {
	imm, _ := in.Imm.(wasm.CallIndirectImm)
	i, err := f.pop(wasm.ValI32)
	if err != nil {
		return operandTrap("control", in, err)
	}
	elem := i.U32()
	table := f.inst.table
	if uint64(elem) >= uint64(len(table)) {
		return errors.New(errors.PhaseExecute, errors.KindUndefinedElement).
			Op(in.Name()).
			Code("call_indirect.undefined").
			Value(elem).
			Detail("element %d of table size %d", elem, len(table)).
			Build()
	}
	fn := table[elem]
	if fn == nil {
		return errors.New(errors.PhaseExecute, errors.KindUninitializedElement).
			Op(in.Name()).
			Code("call_indirect.uninitialized").
			Value(elem).
			Build()
	}
	types := f.inst.module.Types
	if int(imm.TypeIdx) >= len(types) {
		return errors.Malformed("call_indirect.type", in.Offset, fmt.Errorf("type %d out of range", imm.TypeIdx))
	}
	if want := types[imm.TypeIdx]; !fn.typ.Equal(want) {
		return errors.New(errors.PhaseExecute, errors.KindIndirectCallTypeMismatch).
			Op(in.Name()).
			Code("call_indirect.signature").
			Want(want.String()).
			Got(fn.typ.String()).
			Build()
	}
	return f.inst.call(f.ctx, fn)
}

func drop(f *frame, in *wasm.Instruction) error {
	if _, err := f.stack.PopValue(); err != nil {
		return operandTrap("parametric", in, err)
	}
	return nil
}

// selectOp pushes the first operand when the condition is non-zero and the
// second otherwise. Both operands must share a type.
func selectOp(f *frame, in *wasm.Instruction) error {
	cond, err := f.pop(wasm.ValI32)
	if err != nil {
		return operandTrap("parametric", in, err)
	}
	b, err := f.stack.PopValue()
	if err != nil {
		return operandTrap("parametric", in, err)
	}
	a, err := f.stack.PopValue()
	if err != nil {
		return operandTrap("parametric", in, err)
	}
	want := a.typ
	if imm, ok := in.Imm.(wasm.SelectTypeImm); ok && len(imm.Types) == 1 {
		want = imm.Types[0]
	}
	if a.typ != want || b.typ != want {
		return errors.New(errors.PhaseExecute, errors.KindTypeMismatch).
			Op(in.Name()).
			Code("parametric.select.operand").
			Want(typeName(want)).
			Got(fmt.Sprintf("%s and %s", typeName(a.typ), typeName(b.typ))).
			Build()
	}
	if cond.U32() != 0 {
		f.push(a)
	} else {
		f.push(b)
	}
	return nil
}

func defVariables() {
	def(wasm.OpLocalGet, localGet)
	def(wasm.OpLocalSet, localSet)
	def(wasm.OpLocalTee, localTee)
	def(wasm.OpGlobalGet, globalGet)
	def(wasm.OpGlobalSet, globalSet)
}

func (f *frame) local(in *wasm.Instruction) (int, error) {
	imm, _ := in.Imm.(wasm.LocalImm)
	if int(imm.LocalIdx) >= len(f.locals) {
		return 0, errors.Malformed("local.index", in.Offset, fmt.Errorf("local %d out of range", imm.LocalIdx))
	}
	return int(imm.LocalIdx), nil
}

func localGet(f *frame, in *wasm.Instruction) error {
	i, err := f.local(in)
	if err != nil {
		return err
	}
	f.push(f.locals[i])
	return nil
}

func localSet(f *frame, in *wasm.Instruction) error {
	i, err := f.local(in)
	if err != nil {
		return err
	}
	v, err := f.pop(f.locals[i].typ)
	if err != nil {
		return operandTrap("variable", in, err)
	}
	f.locals[i] = v
	return nil
}

func localTee(f *frame, in *wasm.Instruction) error {
	i, err := f.local(in)
	if err != nil {
		return err
	}
	v, err := f.pop(f.locals[i].typ)
	if err != nil {
		return operandTrap("variable", in, err)
	}
	f.locals[i] = v
	f.push(v)
	return nil
}

func (f *frame) global(in *wasm.Instruction) (*Global, error) {
	imm, _ := in.Imm.(wasm.GlobalImm)
	if int(imm.GlobalIdx) >= len(f.inst.globals) {
		return nil, errors.Malformed("global.index", in.Offset, fmt.Errorf("global %d out of range", imm.GlobalIdx))
	}
	return f.inst.globals[imm.GlobalIdx], nil
}

func globalGet(f *frame, in *wasm.Instruction) error {
	g, err := f.global(in)
	if err != nil {
		return err
	}
	f.push(g.Get())
	return nil
}

func globalSet(f *frame, in *wasm.Instruction) error {
	g, err := f.global(in)
	if err != nil {
		return err
	}
	v, err := f.pop(g.Type.ValType)
	if err != nil {
		return operandTrap("variable", in, err)
	}
	return g.Set(v)
}

func memorySize(f *frame, _ *wasm.Instruction) error {
	mem, err := f.memory()
	if err != nil {
		return err
	}
	f.push(U32(mem.Pages()))
	return nil
}

// memoryGrow pushes the previous page count, or -1 when the memory cannot
// grow by the requested delta.
func memoryGrow(f *frame, in *wasm.Instruction) error {
	mem, err := f.memory()
	if err != nil {
		return err
	}
	delta, err := f.pop(wasm.ValI32)
	if err != nil {
		return operandTrap("memop", in, err)
	}
	prev, ok := mem.Grow(delta.U32())
	if !ok {
		f.inst.log.Debug("memory.grow refused",
			zap.Uint32("pages", prev),
			zap.Uint32("delta", delta.U32()),
			zap.Uint32("max", mem.MaxPages()),
		)
		f.push(I32(-1))
		return nil
	}
	f.push(U32(prev))
	return nil
}

func misc(f *frame, in *wasm.Instruction) error {
	imm, _ := in.Imm.(wasm.MiscImm)
	h := miscHandlers[imm.SubOpcode]
	if h == nil {
		return errors.Malformed("dispatch", in.Offset, wasm.ErrUnknownOpcode)
	}
	return h(f, in)
}

// popI32s pops n i32 operands and returns them in push order.
func popI32s(f *frame, in *wasm.Instruction, n int) ([]uint32, error) {
	out := make([]uint32, n)
	for i := n - 1; i >= 0; i-- {
		v, err := f.pop(wasm.ValI32)
		if err != nil {
			return nil, operandTrap("memop", in, err)
		}
		out[i] = v.U32()
	}
	return out, nil
}

func memoryInit(f *frame, in *wasm.Instruction) error {
	mem, err := f.memory()
	if err != nil {
		return err
	}
	ops, err := popI32s(f, in, 3)
	if err != nil {
		return err
	}
	dst, src, n := ops[0], ops[1], ops[2]
	imm, _ := in.Imm.(wasm.MiscImm)
	if len(imm.Operands) == 0 || int(imm.Operands[0]) >= len(f.inst.data) {
		return errors.Malformed("memory.init.segment", in.Offset, fmt.Errorf("data segment out of range"))
	}
	seg := f.inst.data[imm.Operands[0]]
	if uint64(src)+uint64(n) > uint64(len(seg)) {
		return errors.OutOfBounds("memop.init.bounds", uint64(src), int(n), uint64(len(seg)))
	}
	to, err := mem.view("memop.init.bounds", uint64(dst), int(n))
	if err != nil {
		return err
	}
	copy(to, seg[src:src+n])
	return nil
}

func dataDrop(f *frame, in *wasm.Instruction) error {
	imm, _ := in.Imm.(wasm.MiscImm)
	if len(imm.Operands) == 0 || int(imm.Operands[0]) >= len(f.inst.data) {
		return errors.Malformed("data.drop.segment", in.Offset, fmt.Errorf("data segment out of range"))
	}
	f.inst.data[imm.Operands[0]] = nil
	return nil
}

func memoryCopy(f *frame, in *wasm.Instruction) error {
	mem, err := f.memory()
	if err != nil {
		return err
	}
	ops, err := popI32s(f, in, 3)
	if err != nil {
		return err
	}
	return mem.Copy(ops[0], ops[1], ops[2])
}

func memoryFill(f *frame, in *wasm.Instruction) error {
	mem, err := f.memory()
	if err != nil {
		return err
	}
	ops, err := popI32s(f, in, 3)
	if err != nil {
		return err
	}
	return mem.Fill(ops[0], ops[2], byte(ops[1]))
}
