//go:build linux

package logrelay

import (
	"errors"
	"os"
)

// ownedFile holds exclusive ownership of a file. Close releases it unless
// ownership was moved out with Release, so
//
//	f := own(file)
//	defer f.Close()
//	...
//	return f.Release()
//
// closes the file on every early return and on none of the successful ones.
type ownedFile struct {
	f *os.File
}

func own(f *os.File) ownedFile {
	return ownedFile{f: f}
}

// File returns the file without giving up ownership.
func (o *ownedFile) File() *os.File {
	return o.f
}

// Release moves ownership to the caller. Subsequent Close calls are no-ops.
func (o *ownedFile) Release() *os.File {
	f := o.f
	o.f = nil

	return f
}

// Close closes the file if it is still owned. Safe to call multiple times.
func (o *ownedFile) Close() error {
	if o.f == nil {
		return nil
	}

	err := o.f.Close()
	o.f = nil

	return err
}

func closeFiles(files ...*os.File) error {
	var errs []error

	for _, f := range files {
		if f == nil {
			continue
		}

		err := f.Close()
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
