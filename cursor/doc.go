// Package cursor stores how far each sync provider's change log has been
// pulled, so a sync cycle only asks for changes it has not seen.
package cursor
