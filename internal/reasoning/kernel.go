package reasoning

import (
	"fmt"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	_ "github.com/google/mangle/packages"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"

	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
)

// kernel is one analyzed Mangle program plus the fact store it runs against.
// The program is fixed at construction; the store is replaced by reset.
type kernel struct {
	name           string
	programInfo    *analysis.ProgramInfo
	predicateIndex map[string]ast.PredicateSym
	store          factstore.ConcurrentFactStore
	log            *zap.Logger
}

func newKernel(name, src string, log *zap.Logger) (*kernel, error) {
	unit, err := parse.Unit(strings.NewReader(src))
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeReasoningEngineInit,
			fmt.Sprintf("failed to parse %s rules", name))
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeReasoningEngineInit,
			fmt.Sprintf("failed to analyze %s rules", name))
	}

	k := &kernel{
		name:           name,
		programInfo:    programInfo,
		predicateIndex: make(map[string]ast.PredicateSym, len(programInfo.Decls)),
		log:            log.With(zap.String("program", name)),
	}
	for sym := range programInfo.Decls {
		k.predicateIndex[sym.Symbol] = sym
	}
	k.reset()
	return k, nil
}

// require fails construction when a predicate the engine reads or writes is
// missing from the program.
func (k *kernel) require(predicates ...string) error {
	for _, p := range predicates {
		if _, ok := k.predicateIndex[p]; !ok {
			return patinaerr.New(patinaerr.CodeReasoningEngineInit,
				fmt.Sprintf("%s rules do not declare %s", k.name, p))
		}
	}
	return nil
}

// reset discards every fact, base and derived.
func (k *kernel) reset() {
	k.store = factstore.NewConcurrentFactStore(factstore.NewSimpleInMemoryStore())
}

func (k *kernel) add(predicate string, args ...ast.BaseTerm) error {
	sym, ok := k.predicateIndex[predicate]
	if !ok {
		return patinaerr.New(patinaerr.CodeReasoningEvaluationException,
			fmt.Sprintf("predicate %s is not declared in %s rules", predicate, k.name))
	}
	if len(args) != sym.Arity {
		return patinaerr.New(patinaerr.CodeReasoningEvaluationException,
			fmt.Sprintf("predicate %s expects %d args, got %d", predicate, sym.Arity, len(args)))
	}
	k.store.Add(ast.Atom{Predicate: sym, Args: args})
	return nil
}

func (k *kernel) addPolicy(p Policy) error {
	for key, value := range p.facts() {
		name, err := ast.Name("/" + key)
		if err != nil {
			return patinaerr.Wrap(err, patinaerr.CodeReasoningEvaluationException, "invalid policy key", patinaerr.Field("key", key))
		}
		if err := k.add("policy", name, ast.Number(value)); err != nil {
			return err
		}
	}
	return nil
}

func (k *kernel) evaluate() error {
	stats, err := mengine.EvalProgramWithStats(k.programInfo, k.store)
	if err != nil {
		return patinaerr.Wrap(err, patinaerr.CodeReasoningEvaluationException,
			fmt.Sprintf("%s evaluation failed", k.name))
	}
	k.log.Debug("evaluated", zap.Any("stats", stats))
	return nil
}

func (k *kernel) facts(predicate string) ([]ast.Atom, error) {
	sym, ok := k.predicateIndex[predicate]
	if !ok {
		return nil, patinaerr.New(patinaerr.CodeReasoningNoSolution,
			fmt.Sprintf("predicate %s is not declared in %s rules", predicate, k.name))
	}
	var out []ast.Atom
	err := k.store.GetFacts(ast.NewQuery(sym), func(a ast.Atom) error {
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeReasoningEvaluationException,
			fmt.Sprintf("failed to read %s", predicate))
	}
	return out, nil
}

// single returns the only derived answer for a unary predicate.
func (k *kernel) single(predicate string) (ast.Constant, error) {
	atoms, err := k.facts(predicate)
	if err != nil {
		return ast.Constant{}, err
	}
	switch len(atoms) {
	case 0:
		return ast.Constant{}, patinaerr.New(patinaerr.CodeReasoningNoSolution,
			fmt.Sprintf("%s rules derived no %s", k.name, predicate))
	case 1:
	default:
		answers := make([]string, len(atoms))
		for i, a := range atoms {
			answers[i] = a.String()
		}
		return ast.Constant{}, patinaerr.New(patinaerr.CodeReasoningEvaluationException,
			fmt.Sprintf("%s rules derived %d answers for %s: %s", k.name, len(atoms), predicate, strings.Join(answers, ", ")))
	}

	c, ok := atoms[0].Args[0].(ast.Constant)
	if !ok {
		return ast.Constant{}, patinaerr.New(patinaerr.CodeReasoningTypeMismatch,
			fmt.Sprintf("%s answer %s is not a constant", predicate, atoms[0].String()))
	}
	return c, nil
}

func numberArg(a ast.Atom, i int) (int64, error) {
	c, ok := a.Args[i].(ast.Constant)
	if !ok || c.Type != ast.NumberType {
		return 0, patinaerr.New(patinaerr.CodeReasoningTypeMismatch,
			fmt.Sprintf("argument %d of %s is not a number", i, a.String()))
	}
	return c.NumValue, nil
}
