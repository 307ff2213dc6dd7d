//go:build windows

package retry

import "syscall"

// Windows socket error codes (WSAE*): native values returned by
// Windows APIs, distinct from the POSIX-style values Go invents for
// portability. See
// https://docs.microsoft.com/en-us/windows/win32/winsock/windows-sockets-error-codes-2
const (
	wsaenetdown     syscall.Errno = 10050
	wsaeconnaborted syscall.Errno = 10053
	wsaenetreset    syscall.Errno = 10052
	wsaeconnreset   syscall.Errno = 10054
	wsaenobufs      syscall.Errno = 10055
	wsaetimedout    syscall.Errno = 10060
	wsaeconnrefused syscall.Errno = 10061
	wsaenetunreach  syscall.Errno = 10051
	wsaehostdown    syscall.Errno = 10064
	wsaehostunreach syscall.Errno = 10065
)

// isRetryableErrno checks both POSIX-style and native WSAE* values.
func isRetryableErrno(errno syscall.Errno) bool {
	switch errno {
	case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
		syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH,
		syscall.EPIPE:
		return true
	case wsaeconnreset, wsaeconnrefused, wsaeconnaborted,
		wsaetimedout, wsaenetunreach, wsaehostunreach,
		wsaenetdown, wsaenetreset, wsaenobufs, wsaehostdown:
		return true
	}
	return false
}
