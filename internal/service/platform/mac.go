package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/firefox-package/internal/config"
	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/logger"
)

const (
	// dmgExtension is the suffix of macOS disk images.
	dmgExtension = ".dmg"
	// appBundle is the application bundle shipped in Firefox disk images.
	appBundle = "Firefox.app"
)

var (
	errNoAppBundle    = errors.New("no .app bundle found in disk image")
	errManyAppBundles = errors.New("more than one .app bundle found in disk image")
	errCommandFailed  = errors.New("command exited with a non-zero status")
)

// MacTarget installs disk images, or release tarballs, on macOS.
type MacTarget struct {
	*unixTarget
}

func newMacTarget(deps Dependencies) *MacTarget {
	target := &MacTarget{
		unixTarget: &unixTarget{
			deps:     deps,
			platform: firefox.PlatformMac,
			binary:   macBinary,
		},
	}

	target.unpack = target.unpackArtifact

	return target
}

// macBinary is the executable inside the bundle for disk images and at the top level otherwise.
func macBinary(req *firefox.Request, artifact string) string {
	if isDiskImage(artifact) {
		return filepath.Join(req.Path, appBundle, "Contents", "MacOS", "firefox")
	}

	return filepath.Join(req.Path, "firefox")
}

func isDiskImage(artifact string) bool {
	return strings.EqualFold(filepath.Ext(artifact), dmgExtension)
}

func (t *MacTarget) unpackArtifact(ctx context.Context, artifact string, req *firefox.Request) error {
	if !isDiskImage(artifact) {
		return ExtractArchive(ctx, artifact, req.Path, archiveStrip)
	}

	return t.copyFromDiskImage(ctx, artifact, req.Path)
}

// copyFromDiskImage mounts the image read-only, copies its single bundle into
// dest and detaches the image again.
func (t *MacTarget) copyFromDiskImage(ctx context.Context, image, dest string) error {
	mountPoint, err := os.MkdirTemp("", "firefox-dmg-*")
	if err != nil {
		return fmt.Errorf("create mount point: %w", err)
	}

	defer func() {
		_ = os.Remove(mountPoint)
	}()

	if err = t.run(ctx, "hdiutil", "attach", "-nobrowse", "-readonly", "-mountpoint", mountPoint, image); err != nil {
		return fmt.Errorf("mount %s: %w", filepath.Base(image), err)
	}

	defer func() {
		if detachErr := t.run(context.WithoutCancel(ctx), "hdiutil", "detach", mountPoint, "-force"); detachErr != nil {
			logger.WarnKV(ctx, "Unable to detach disk image", "mount_point", mountPoint, "error", detachErr)
		}
	}()

	bundle, err := findAppBundle(mountPoint)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(image), err)
	}

	if err = os.MkdirAll(dest, config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	installed := filepath.Join(dest, filepath.Base(bundle))
	if err = os.RemoveAll(installed); err != nil {
		return fmt.Errorf("remove previous bundle: %w", err)
	}

	if err = t.run(ctx, "cp", "-R", bundle, dest+string(os.PathSeparator)); err != nil {
		return fmt.Errorf("copy %s: %w", filepath.Base(bundle), err)
	}

	if err = t.run(ctx, "xattr", "-rd", "com.apple.quarantine", installed); err != nil {
		logger.DebugKV(ctx, "Unable to clear quarantine attribute", "path", installed, "error", err)
	}

	return nil
}

func (t *MacTarget) run(ctx context.Context, name string, args ...string) error {
	result, err := t.deps.Runner.Run(ctx, name, args...)
	if err != nil {
		return err
	}

	if result.ExitCode != 0 {
		return fmt.Errorf("%s %w (%d): %s", name, errCommandFailed, result.ExitCode, result.Output())
	}

	return nil
}

// findAppBundle returns the only .app directory at the top of mountPoint.
func findAppBundle(mountPoint string) (string, error) {
	entries, err := os.ReadDir(mountPoint)
	if err != nil {
		return "", fmt.Errorf("read disk image: %w", err)
	}

	var bundle string

	for _, entry := range entries {
		if !entry.IsDir() || filepath.Ext(entry.Name()) != ".app" {
			continue
		}

		if bundle != "" {
			return "", errManyAppBundles
		}

		bundle = filepath.Join(mountPoint, entry.Name())
	}

	if bundle == "" {
		return "", errNoAppBundle
	}

	return bundle, nil
}
