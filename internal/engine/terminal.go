package engine

import "github.com/roach88/navq/internal/queryir"

// materialize applies a terminal to shaped elements. Aggregates arrive as
// a single computed element; element operators receive at most the rows
// their limit lets through.
func materialize(op queryir.TerminalOp, failOnEmpty bool, elems []any) (any, error) {
	switch {
	case op == "" || op == queryir.OpToList:
		return elems, nil
	case op.IsAggregate():
		if len(elems) == 0 || elems[0] == nil {
			if failOnEmpty {
				return nil, NewOperationError(msgNoElements)
			}
			return nil, nil
		}
		return elems[0], nil
	}
	return element(op, elems)
}

// element picks the result of an element operator.
func element(op queryir.TerminalOp, elems []any) (any, error) {
	if len(elems) == 0 {
		switch {
		case op.OrDefault():
			return nil, nil
		case op == queryir.OpElementAt:
			return nil, NewOperationError(msgIndexOutOfRange)
		}
		return nil, NewOperationError(msgNoElements)
	}
	if len(elems) > 1 && (op == queryir.OpSingle || op == queryir.OpSingleOrDefault) {
		return nil, NewOperationError(msgMoreThanOne)
	}
	return elems[0], nil
}
