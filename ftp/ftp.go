// Description: FTP package
// This package contains a passive-mode FTP server.
// Every control connection gets its own Session, bound to a fresh filesystem.Provider,
// and all bulk data moves over single-use passive data channels.
// It also contains the FTP status codes and commands the server speaks.

package ftp

// StatusCode is a type for FTP status codes
type StatusCode = int

const (
	// Informational codes (1xx)
	StatusFileStatusOK StatusCode = 150 // File status okay; about to open data connection

	// Success codes (2xx)
	StatusCommandOK                       StatusCode = 200 // Command okay
	StatusFileStatus                      StatusCode = 213 // File status
	StatusServiceReadyForNewUser          StatusCode = 220 // Service ready for new user
	StatusServiceClosingControlConnection StatusCode = 221 // Service closing control connection
	StatusClosingDataConnection           StatusCode = 226 // Closing data connection; requested file action successful
	StatusEnteringPassiveMode             StatusCode = 227 // Entering Passive Mode (h1,h2,h3,h4,p1,p2)
	StatusUserLoggedIn                    StatusCode = 230 // User logged in, proceed
	StatusFileActionOK                    StatusCode = 250 // Requested file action okay, completed
	StatusPathnameCreated                 StatusCode = 257 // "PATHNAME" created

	// Transient Negative Completion codes (3xx)
	StatusFileActionPending StatusCode = 350 // Requested file action pending further information

	// Transient Negative Completion codes (4xx)
	StatusServiceNotAvailable    StatusCode = 421 // Service not available, closing control connection
	StatusCantOpenDataConnection StatusCode = 425 // Can't open data connection

	// Permanent Negative Completion codes (5xx)
	StatusSyntaxError             StatusCode = 500 // Syntax error, command unrecognized
	StatusSyntaxErrorInParameters StatusCode = 501 // Syntax error in parameters or arguments
	StatusBadSequenceOfCommands   StatusCode = 503 // Bad sequence of commands
	StatusFileUnavailable         StatusCode = 550 // Requested action not taken; File unavailable
)

var statusText = map[StatusCode]string{
	150: "Opening data connection",
	200: "Command okay",
	213: "File status",
	220: "Service ready",
	221: "Goodbye",
	226: "Transfer complete",
	227: "Entering Passive Mode",
	230: "User logged in, proceed",
	250: "Requested file action okay, completed",
	257: "Pathname created",
	350: "Requested file action pending further information",
	421: "Service not available, closing control connection",
	425: "Can't open data connection",
	500: "Error executing command",
	501: "Command not implemented",
	503: "Bad sequence of commands",
	550: "Requested action not taken",
}

// StatusText returns the default reply text for code, or "" if the code is unknown.
func StatusText(code int) string {
	return statusText[code]
}

type Command = string

const (
	USER Command = "USER" // Send username, accepted without a password
	PASS Command = "PASS" // Send password, not supported
	TYPE Command = "TYPE" // Set data transfer type (ASCII/Binary)
	OPTS Command = "OPTS" // Set options, not supported
	SYST Command = "SYST" // Get operating system type
	NOOP Command = "NOOP" // No operation (often used to keep connections alive)
	QUIT Command = "QUIT" // Disconnect from the server

	PWD  Command = "PWD"  // Print working directory
	XPWD Command = "XPWD" // Print working directory (extended version)
	CWD  Command = "CWD"  // Change working directory
	LIST Command = "LIST" // List directory contents
	SIZE Command = "SIZE" // Size of a file

	PASV Command = "PASV" // Enter passive mode
	RETR Command = "RETR" // Retrieve a file
	STOR Command = "STOR" // Store a file
	DELE Command = "DELE" // Delete a file
	RNFR Command = "RNFR" // Rename from (start the rename process)
	RNTO Command = "RNTO" // Rename to   (finish the rename process)
	MKD  Command = "MKD"  // Make directory
	XMKD Command = "XMKD" // Make directory (extended version)
	RMD  Command = "RMD"  // Remove directory
	XRMD Command = "XRMD" // Remove directory (extended version)
)
