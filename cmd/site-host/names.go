// names.go — имя вершины графа зависимостей для topologymetrics.
package main

import (
	"os"
	"regexp"
)

var (
	// <deployment>-<hash ReplicaSet>-<суффикс пода>
	deploymentPodName = regexp.MustCompile(`^(.+)-[a-z0-9]{6,10}-[a-z0-9]{5}$`)
	// <statefulset>-<порядковый номер>
	statefulSetPodName = regexp.MustCompile(`^(.+)-[0-9]+$`)
)

// parseOwnerName извлекает имя владельца пода (Deployment или StatefulSet)
// из hostname. Нераспознанное имя возвращается как есть.
func parseOwnerName(hostname string) string {
	if m := deploymentPodName.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	if m := statefulSetPodName.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	return hostname
}

// serviceID возвращает имя текущего экземпляра для метрик зависимостей.
func serviceID(fallback string) string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return fallback
	}
	return parseOwnerName(hostname)
}
