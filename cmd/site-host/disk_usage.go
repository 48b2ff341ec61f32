// disk_usage.go — ёмкость диска под директорией данных.
// Платформозависимый код для Unix-подобных систем.
package main

import (
	"fmt"
	"syscall"
)

// diskUsage — занятость файловой системы в байтах.
type diskUsage struct {
	Total     int64
	Used      int64
	Available int64
}

// getDiskUsage возвращает занятость файловой системы, содержащей path.
func getDiskUsage(path string) (*diskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	available := int64(stat.Bavail) * int64(stat.Bsize)
	return &diskUsage{
		Total:     total,
		Used:      total - available,
		Available: available,
	}, nil
}
