package vm

import "fmt"

type Opcode uint8

const (
	VALUE       Opcode = iota // inlined constant or external
	STACK_REF                 // Offset counted back from the top of the value stack
	CAPTURE_REF               // Offset into the current lambda's captures
	BLOCK                     // Args are statements, Body is the result; stack shrinks on exit
	ASSIGN                    // evaluates Body and pushes it
	CALL                      // Body is the callee, Args the arguments
	LAMBDA                    // Params, Captures, Body
	TERNARY                   // Args = cond, then, else
	BUILD_LIST                // Args are elements
	BUILD_DICT                // Args alternate key, value
)

func (o Opcode) String() string {
	switch o {
	case VALUE:
		return "VALUE"
	case STACK_REF:
		return "STACK_REF"
	case CAPTURE_REF:
		return "CAPTURE_REF"
	case BLOCK:
		return "BLOCK"
	case ASSIGN:
		return "ASSIGN"
	case CALL:
		return "CALL"
	case LAMBDA:
		return "LAMBDA"
	case TERNARY:
		return "TERNARY"
	case BUILD_LIST:
		return "BUILD_LIST"
	case BUILD_DICT:
		return "BUILD_DICT"
	}
	return fmt.Sprintf("Opcode(%d)", uint8(o))
}
