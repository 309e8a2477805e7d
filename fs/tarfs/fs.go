// Package tarfs builds a disk image from a tar archive.
package tarfs

import (
	"archive/tar"
	"io"
	"io/ioutil"
	"path"

	"github.com/evanphx/userprog/fs/memfs"
	"github.com/evanphx/userprog/log"
	"github.com/pkg/errors"
)

func entryName(hdr *tar.Header) string {
	name := hdr.Name

	if len(name) > 2 && name[:2] == "./" {
		name = name[2:]
	}

	if len(name) >= 1 && name[0] == '/' {
		name = name[1:]
	}

	return name
}

// NewTarFS loads every regular file in the archive into a fresh memfs.
// The root directory is flat, so files below a subdirectory are stored by
// their base name.
func NewTarFS(r io.Reader) (*memfs.FS, error) {
	tr := tar.NewReader(r)

	m := memfs.New()

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, errors.Wrap(err, "reading disk image")
		}

		if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != tar.TypeRegA {
			log.L.Trace("tarfs-skip", "name", hdr.Name, "type", hdr.Typeflag)
			continue
		}

		data, err := ioutil.ReadAll(tr)
		if err != nil {
			return nil, err
		}

		name := path.Base(entryName(hdr))

		err = m.WriteFile(name, data)
		if err != nil {
			return nil, errors.Wrapf(err, "loading %s", hdr.Name)
		}

		log.L.Trace("tarfs-file", "name", name, "size", len(data))
	}

	return m, nil
}
