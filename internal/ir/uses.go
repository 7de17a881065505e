package ir

// addUse records that `user` references `operand` as an operand, maintaining
// the use-list invariant (spec.md §3.2 invariant 2). Every constructor in
// builder.go that wires an operand must call this exactly once per operand
// edge; nothing outside this file appends to Instruction.users.
func addUse(user, operand *Instruction) {
	if operand == nil {
		return
	}
	operand.users = append(operand.users, user)
}

// removeUse drops the (user, operand) edge from operand's use-list. Order
// within users is not significant, so this is an O(1) swap-remove.
func removeUse(user, operand *Instruction) {
	if operand == nil {
		return
	}
	us := operand.users
	for i, u := range us {
		if u == user {
			last := len(us) - 1
			us[i] = us[last]
			operand.users = us[:last]
			return
		}
	}
}

// unwireOperands removes `inst` from the use-list of every Instruction it
// references, the inverse of the wiring builder.go performs at construction.
func unwireOperands(inst *Instruction) {
	inst.ForEachChild(func(child *Instruction) {
		removeUse(inst, child)
	})
}

// replaceOperand rewrites every operand slot of `user` that currently points
// to `old` so that it points to `new` instead. This is the single place that
// knows the concrete field layout per Opcode (mirroring ForEachChild), kept
// separate from it because ForEachChild's callback signature cannot mutate
// in place.
func replaceOperand(user, old, new *Instruction) {
	switch user.Opcode {
	case OpLoad, OpNot, OpCopy:
		if user.Lhs == old {
			user.Lhs = new
		}
	case OpStore:
		if user.Lhs == old {
			user.Lhs = new
		}
		if user.Rhs == old {
			user.Rhs = new
		}
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpShl, OpSar, OpShr, OpAnd, OpOr,
		OpLt, OpLe, OpGt, OpGe, OpEq, OpNe:
		if user.Lhs == old {
			user.Lhs = new
		}
		if user.Rhs == old {
			user.Rhs = new
		}
	case OpBranchConditional:
		if user.Lhs == old {
			user.Lhs = new
		}
	case OpReturn:
		if user.Lhs == old {
			user.Lhs = new
		}
	case OpCall:
		if user.IsIndirect && user.Lhs == old {
			user.Lhs = new
		}
		for i, a := range user.Args {
			if a == old {
				user.Args[i] = new
			}
		}
	case OpPhi:
		for i, a := range user.Args {
			if a == old {
				user.Args[i] = new
			}
		}
	}
}

// ReplaceUses rewrites every user of `old` to use `new` instead, and
// transfers `old`'s use-list onto `new` in one pass (spec.md §4.A
// "replace_uses", §9's design note on this being a mass, atomic rewrite).
// After this call old.Users() is empty.
func ReplaceUses(old, new *Instruction) {
	if old == new {
		return
	}
	users := old.users
	old.users = nil
	for _, u := range users {
		replaceOperand(u, old, new)
		new.users = append(new.users, u)
	}
}
