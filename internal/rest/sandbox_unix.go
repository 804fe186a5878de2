// +build linux darwin

// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.



package rest

import (
	"syscall"

	"github.com/pkg/errors"

	nl "github.com/mlnoga/panostitch/internal"
)


// Secures the current process by creating a chroot environment
// (requires root) and changing the user ID to something without
// elevated rights. Negative setuid keeps the current user
func MakeSandbox(chroot string, setuid int) error {
	if len(chroot)>0 {
		nl.LogPrintf("Changing filesystem root to %s...\n", chroot)
		if err:=syscall.Chroot(chroot); err!=nil {
			return errors.Wrapf(err, "chroot(%s)", chroot)
		}
		if err:=syscall.Chdir("/"); err!=nil {
			return errors.Wrapf(err, "chdir after chroot(%s)", chroot)
		}
	}
	if setuid>=0 {
		nl.LogPrintf("Setting user id from %d/%d to %d\n", syscall.Getuid(), syscall.Geteuid(), setuid)
		if err:=syscall.Setuid(setuid); err!=nil {
			return errors.Wrapf(err, "setuid(%d)", setuid)
		}
	}
	return nil
}
