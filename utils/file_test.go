package utils

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestSafeJoinDir(t *testing.T) {
	joined, err := SafeJoinDir("/out", "map_cloud.pcd")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, joined, test.ShouldEqual, filepath.Join("/out", "map_cloud.pcd"))

	_, err = SafeJoinDir("/out", "../etc/passwd")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsafe path join")
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "path.json")

	err := WriteFileAtomic(fn, func(w io.Writer) error {
		_, err := w.Write([]byte("first"))
		return err
	})
	test.That(t, err, test.ShouldBeNil)
	data, err := os.ReadFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "first")

	err = WriteFileAtomic(fn, func(w io.Writer) error {
		if _, err := w.Write([]byte("partial")); err != nil {
			return err
		}
		return errors.New("encoder broke")
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "encoder broke")

	data, err = os.ReadFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "first")

	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 1)
}

func TestGuard(t *testing.T) {
	cleaned := 0
	func() {
		guard := NewGuard(func() { cleaned++ })
		defer guard.OnFail()
	}()
	test.That(t, cleaned, test.ShouldEqual, 1)

	func() {
		guard := NewGuard(func() { cleaned++ })
		defer guard.OnFail()
		guard.Success()
	}()
	test.That(t, cleaned, test.ShouldEqual, 1)
}
