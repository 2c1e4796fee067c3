// Package fileops provides secure file operations with defense-in-depth validation patterns.
//
// This package implements atomic file writes combined with path and content validations
// to prevent common attacks like path traversal, symlink escapes, and content injection.
//
// # Security Validation Patterns
//
// For maximum security, combine validation functions in this order:
//
// 1. **Path Security**: ValidatePathSecurity() - Prevents path traversal attacks
// 2. **Containment**: ValidateWithinBase() - Prevents directory and symlink escapes
// 3. **File Name**: ValidateFilename(), ValidateExtension() - Bounds names and types
// 4. **Content Size**: ValidateContentSize() - Prevents resource exhaustion
// 5. **Content Security**: ValidateContentSecurity() - Blocks control characters
//
// # Example: Secure Document Write
//
//	if err := fileops.ValidatePathSecurity(path); err != nil {
//	    return fmt.Errorf("path security: %w", err)
//	}
//	if err := fileops.ValidateWithinBase(path, bankDir); err != nil {
//	    return fmt.Errorf("containment: %w", err)
//	}
//	if err := fileops.ValidateContentSize(int64(len(content)), maxSize); err != nil {
//	    return fmt.Errorf("content size: %w", err)
//	}
//	return fileops.AtomicWriteFile(path, []byte(content), 0o644)
//
// # Atomic Operations
//
// Use AtomicWriteFile() for writes that must never leave a partially written file:
//
//	err := fileops.AtomicWriteFile(destPath, data, 0o644)
//	// Destination holds the new content or remains unchanged on failure
//
// # Directory Operations
//
// EnsureDirectoryExists() creates directories safely with proper permissions (0755).
package fileops
