// Package overlap decides, when several interval classes are due in the
// same tick, which gets a physical snapshot and how the rest are tagged
// against it.
package overlap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hkoerber/rbackupd/internal/repository"
)

// Plan is the result of resolving one tick's due classes: exactly one
// physical BackupParams plus zero or more sibling aliases sharing its
// timestamp suffix.
type Plan struct {
	Physical repository.BackupParams
	// PhysicalClass is the class the physical snapshot is tagged under.
	PhysicalClass string
	// Aliases maps each remaining due class name to the snapshot folder
	// name it should end up as.
	Aliases map[string]string
}

// Resolve builds the materialization Plan for one tick given the classes
// due this tick (in declared order) and the ephemeral fields common to
// all of them (everything in BackupParams except FolderName/LinkRefFolder,
// which vary per class).
func Resolve(policy repository.OverlappingPolicy, dueClasses []string, taskName string, ts string, linkRefFolder string, common repository.BackupParams) (Plan, error) {
	if len(dueClasses) == 0 {
		return Plan{}, fmt.Errorf("overlap.Resolve called with no due classes")
	}

	physicalClass := dueClasses[0]
	physical := common
	physical.FolderName = folderName(taskName, physicalClass, ts)
	physical.LinkRefFolder = linkRefFolder

	plan := Plan{Physical: physical, PhysicalClass: physicalClass, Aliases: map[string]string{}}

	if policy == repository.Single {
		return plan, nil
	}

	for _, class := range dueClasses[1:] {
		plan.Aliases[class] = folderName(taskName, class, ts)
	}
	return plan, nil
}

func folderName(taskName, class, ts string) string {
	return taskName + "_" + class + "_" + ts
}

// Materialize creates the sibling directories/symlinks for a resolved
// Plan's aliases, once the physical snapshot directory already exists at
// physicalPath. policy selects hardlink (recursive hard-link copy) versus
// symlink (relative symbolic link) fan-out; policy must not be Single.
func Materialize(ctx context.Context, policy repository.OverlappingPolicy, destinationDir, physicalPath string, plan Plan) error {
	for _, folderName := range plan.Aliases {
		siblingPath := filepath.Join(destinationDir, folderName)
		switch policy {
		case repository.Hardlink:
			if err := hardlinkTree(physicalPath, siblingPath); err != nil {
				return fmt.Errorf("hard-linking sibling snapshot %s: %w", folderName, err)
			}
		case repository.Symlink:
			rel, err := filepath.Rel(filepath.Dir(siblingPath), physicalPath)
			if err != nil {
				rel = physicalPath
			}
			if err := os.Symlink(rel, siblingPath); err != nil {
				return fmt.Errorf("symlinking sibling snapshot %s: %w", folderName, err)
			}
		default:
			return fmt.Errorf("unexpected overlapping policy %v for sibling materialization", policy)
		}
	}
	return nil
}

// hardlinkTree recursively recreates src's directory structure at dst,
// hard-linking every regular file and recreating every symlink, so the
// sibling shares inode content with the physical snapshot.
func hardlinkTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode())
		case info.Mode()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(linkTarget, target)
		default:
			return os.Link(path, target)
		}
	})
}
