package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quill-lang/quill/compiler"
	"github.com/quill-lang/quill/parse"
	"github.com/quill-lang/quill/project"
	"github.com/quill-lang/quill/stdlib"
	"github.com/quill-lang/quill/vm"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var irCmd = &cobra.Command{
	Use:   "ir FILE",
	Short: "Print the compiled expression tree of a .quill file",
	Args:  cobra.ExactArgs(1),
	RunE:  irCommand,
}

func irCommand(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := afero.ReadFile(afero.NewOsFs(), path)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), project.FileExtension)
	tree, err := parse.Parse(name, string(data))
	if err != nil {
		printError(name, err)
		return errors.New("parse failed")
	}
	// Imports are not resolved; each import variable compiles as an empty dict.
	placeholders := map[string]vm.Value{}
	for _, imp := range tree.Imports {
		placeholders[imp.Variable] = vm.NewDict(nil, nil)
		fmt.Fprintf(os.Stderr, "note: import %q is not resolved\n", imp.Path)
	}
	prog, err := compiler.Compile(tree, name, compiler.Layers{stdlib.New(), compiler.MapExternals{placeholders}})
	if err != nil {
		printError(name, err)
		return errors.New("compile failed")
	}
	prog.DebugPrint(os.Stdout)
	return nil
}
