package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/loykin/dirvisor/pkg/template"
)

func runNew(out io.Writer, typ, name string, flags NewFlags) error {
	b, err := template.NewGenerator().Render(template.TemplateType(typ), name, template.Format(flags.Format))
	if err != nil {
		return err
	}
	if flags.Dir == "" {
		_, err := out.Write(b)
		return err
	}
	path := filepath.Join(flags.Dir, name+"."+flags.Format)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists", path)
		}
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "wrote %s\n", path)
	return nil
}
