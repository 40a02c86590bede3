// Package sshutil stores SSH identity files and provisions gateway service
// accounts on target devices over SSH.
package sshutil
