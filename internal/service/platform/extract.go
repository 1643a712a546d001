package platform

import (
	"archive/tar"
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/oshokin/firefox-package/internal/config"
)

var (
	errUnsupportedArchive = errors.New("unsupported archive format")
	errIllegalPath        = errors.New("archive entry escapes the destination")
)

// ExtractArchive unpacks a tarball into dest, dropping the first strip path
// components of every entry. The compression is chosen from the file suffix.
func ExtractArchive(ctx context.Context, archive, dest string, strip int) error {
	file, err := os.Open(filepath.Clean(archive))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	stream, err := decompress(archive, bufio.NewReader(file))
	if err != nil {
		return err
	}

	if err = os.MkdirAll(dest, config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	reader := tar.NewReader(stream)

	for {
		if err = ctx.Err(); err != nil {
			return err
		}

		var header *tar.Header

		header, err = reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read archive %s: %w", archive, err)
		}

		if err = extractEntry(reader, header, dest, strip); err != nil {
			return err
		}
	}
}

// decompress wraps r with the decoder matching the archive suffix.
func decompress(archive string, r io.Reader) (io.Reader, error) {
	name := strings.ToLower(filepath.Base(archive))

	switch {
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return bzip2.NewReader(r), nil
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		stream, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open xz stream: %w", err)
		}

		return stream, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		stream, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}

		return stream, nil
	case strings.HasSuffix(name, ".tar"):
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedArchive, filepath.Base(archive))
	}
}

func extractEntry(reader io.Reader, header *tar.Header, dest string, strip int) error {
	if !filepath.IsLocal(filepath.FromSlash(header.Name)) {
		return fmt.Errorf("%w: %s", errIllegalPath, header.Name)
	}

	name, keep := stripComponents(header.Name, strip)
	if !keep {
		return nil
	}

	target, err := localPath(dest, name)
	if err != nil {
		return fmt.Errorf("%w: %s", err, header.Name)
	}

	switch header.Typeflag {
	case tar.TypeDir:
		if err = os.MkdirAll(target, config.DefaultDirPermissions); err != nil {
			return fmt.Errorf("create directory %s: %w", target, err)
		}
	case tar.TypeReg:
		if err = writeFile(reader, target, header.FileInfo().Mode().Perm()); err != nil {
			return err
		}
	case tar.TypeSymlink:
		if err = writeSymlink(header.Linkname, target, dest); err != nil {
			return fmt.Errorf("%w: %s", err, header.Name)
		}
	case tar.TypeLink:
		linkName, linkKeep := stripComponents(header.Linkname, strip)
		if !linkKeep {
			return fmt.Errorf("%w: %s", errIllegalPath, header.Linkname)
		}

		var source string

		source, err = localPath(dest, linkName)
		if err != nil {
			return fmt.Errorf("%w: %s", err, header.Linkname)
		}

		if err = replaceWith(target, func() error { return os.Link(source, target) }); err != nil {
			return fmt.Errorf("create hard link %s: %w", target, err)
		}
	default:
		// Devices and fifos are never part of a browser build.
	}

	return nil
}

// stripComponents removes the first strip elements of a slash separated name.
func stripComponents(name string, strip int) (string, bool) {
	parts := strings.Split(strings.Trim(path.Clean("/"+name), "/"), "/")
	if len(parts) <= strip {
		return "", false
	}

	stripped := strings.Join(parts[strip:], "/")

	return stripped, stripped != ""
}

// localPath joins name under dest, refusing names that leave it.
func localPath(dest, name string) (string, error) {
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return "", errIllegalPath
	}

	return filepath.Join(dest, local), nil
}

func writeFile(reader io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create parent of %s: %w", target, err)
	}

	// A link left by an earlier extraction must not be written through.
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err = os.Remove(target); err != nil {
			return fmt.Errorf("replace %s: %w", target, err)
		}
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}

	if _, err = io.Copy(out, reader); err != nil {
		_ = out.Close()

		return fmt.Errorf("write file %s: %w", target, err)
	}

	if err = out.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", target, err)
	}

	// Umask may have dropped bits of an existing file.
	return os.Chmod(target, mode)
}

// writeSymlink creates a relative symlink whose destination stays under root.
func writeSymlink(linkname, target, root string) error {
	if filepath.IsAbs(linkname) {
		return errIllegalPath
	}

	resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(linkname))

	relative, err := filepath.Rel(root, resolved)
	if err != nil || !filepath.IsLocal(relative) {
		return errIllegalPath
	}

	if err = os.MkdirAll(filepath.Dir(target), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create parent of %s: %w", target, err)
	}

	return replaceWith(target, func() error { return os.Symlink(linkname, target) })
}

// replaceWith removes a non-directory at target and runs create.
func replaceWith(target string, create func() error) error {
	if info, err := os.Lstat(target); err == nil && !info.IsDir() {
		if err = os.Remove(target); err != nil {
			return err
		}
	}

	return create()
}
