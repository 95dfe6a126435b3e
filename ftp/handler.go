package ftp

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"github.com/telebroad/ftpgateway/filesystem"
	"github.com/telebroad/ftpgateway/tools"
)

type handlerMap map[string]func(cmd string, arg string) error

func (s *Session) commands() handlerMap {
	return handlerMap{
		USER: s.UserCommand,                  // USER is accepted without authentication
		SYST: s.SystemCommand,                // SYST is used to get the system type
		OPTS: s.OptsCommand,                  // OPTS is used to specify options for the server
		NOOP: s.NoopCommand,                  // NOOP is used to keep the connection alive
		TYPE: s.TypeCommand,                  // TYPE is used to specify the type of file being transferred
		PWD:  s.PrintWorkingDirectoryCommand, // PWD is used to print the current working directory
		XPWD: s.PrintWorkingDirectoryCommand, // XPWD is the RFC 775 name of PWD
		CWD:  s.ChangeDirectoryCommand,       // CWD is used to change the working directory
		LIST: s.ListCommand,                  // LIST sends an `ls -l` listing over the data connection
		SIZE: s.SizeCommand,                  // SIZE is used to get the size of a file
		PASV: s.PassiveModeCommand,           // PASV is used to enter passive mode
		RETR: s.RetrieveCommand,              // RETR is used to retrieve a file from the server
		STOR: s.SaveCommand,                  // STOR is used to store a file on the server
		DELE: s.RemoveCommand,                // DELE is used to delete a file
		RNFR: s.RenameFromCommand,            // RNFR starts a rename, the next line must be RNTO
		RNTO: s.RenameToCommand,              // RNTO outside of RNFR is out of sequence
		MKD:  s.MakeDirectoryCommand,         // MKD is used to create a directory
		XMKD: s.MakeDirectoryCommand,         // XMKD is the RFC 775 name of MKD
		RMD:  s.RemoveDirectoryCommand,       // RMD is used to remove a directory
		XRMD: s.RemoveDirectoryCommand,       // XRMD is the RFC 775 name of RMD
		QUIT: s.CloseCommand,                 // QUIT is used to terminate the connection
	}
}

// serve greets the client and runs the command loop until QUIT, EOF or a fatal read or write error.
func (s *Session) serve() {
	s.state = stateGreeting
	if err := s.reply(StatusServiceReadyForNewUser, s.ftpServer.WelcomeMessage); err != nil {
		return
	}
	s.state = stateAwaitingCommand
	for s.state != stateTerminated {
		line, err := s.lines.ReadLine()
		switch {
		case errors.Is(err, ErrLineTooLong), errors.Is(err, ErrNonASCII):
			s.logger.Warn("Protocol violation", "error", err)
			_ = s.reply(StatusSyntaxError, err.Error())
			continue
		case errors.Is(err, io.EOF):
			s.logger.Debug("Client closed the connection")
			return
		case err != nil:
			s.logger.Debug("Error reading command", "error", err)
			return
		}
		if line == "" {
			s.logger.Debug("Empty command line, closing the session")
			return
		}
		s.execute(line)
	}
}

// parseCommand splits a line into its verb and the argument after the first space.
func parseCommand(line string) (cmd, arg string) {
	cmd, arg, _ = strings.Cut(line, " ")
	return cmd, arg
}

// execute dispatches one command line and maps a handler error to a negative reply.
func (s *Session) execute(line string) {
	start := time.Now()
	cmd, arg := parseCommand(line)
	s.logger.Debug("Received", "command", tools.RedactCommand(line))

	s.state = stateDispatching
	s.lastCode = 0
	verb := cmd
	handler, ok := s.handlers[cmd]
	if !ok {
		handler = s.UnknownCommand
		verb = "UNKNOWN"
	}

	err := s.call(handler, cmd, arg)
	switch {
	case err == nil:
	case s.writeErr != nil:
		s.logger.Debug("Reply failed, closing the session", "command", cmd, "error", s.writeErr)
	case errors.Is(err, ErrPassiveNotReady):
		s.logger.Warn("Transfer without passive mode", "command", cmd)
		_ = s.reply(StatusCantOpenDataConnection, "Enter passive mode first")
	default:
		s.logger.Error("Error executing command", "command", cmd, "error", err)
		_ = s.reply(StatusSyntaxError, StatusText(StatusSyntaxError))
	}
	if s.state != stateTerminated {
		s.state = stateAwaitingCommand
	}
	s.ftpServer.metrics().ObserveCommand(verb, s.lastCode, time.Since(start))
}

// call runs handler and turns a panic into an error so one bad command cannot kill the session.
func (s *Session) call(handler func(cmd, arg string) error, cmd, arg string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic", "command", cmd, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic in %s: %v", cmd, r)
		}
	}()
	return handler(cmd, arg)
}

// reply writes "<code> <text>\r\n". CR and LF are stripped from text.
// After the first failed write nothing more is sent and the session terminates.
func (s *Session) reply(code int, text string) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.lastCode = code
	_, err := fmt.Fprintf(s.readWriter, "%d %s\r\n", code, tools.StripCRLF(text))
	if err != nil {
		s.writeErr = fmt.Errorf("error writing reply: %w", err)
		s.state = stateTerminated
		return s.writeErr
	}
	return nil
}

// UserCommand handles the USER command from the client. Any user name is logged in.
func (s *Session) UserCommand(cmd, arg string) error {
	return s.reply(StatusUserLoggedIn, "Login successful")
}

// SystemCommand handles the SYST command from the client.
func (s *Session) SystemCommand(cmd, arg string) error {
	return s.reply(StatusFileStatus, "UNIX Type: L8")
}

func (s *Session) OptsCommand(cmd, arg string) error {
	return s.reply(StatusSyntaxErrorInParameters, "Options are not supported")
}

func (s *Session) NoopCommand(cmd, arg string) error {
	return s.reply(StatusCommandOK, "NOOP ok.")
}

// TypeCommand accepts I (binary) and A (ascii); both move bytes unchanged.
func (s *Session) TypeCommand(cmd, arg string) error {
	switch arg {
	case "I", "A":
		return s.reply(StatusCommandOK, "Type set to "+arg)
	default:
		return s.reply(StatusSyntaxErrorInParameters, "Unknown TYPE arg")
	}
}

func (s *Session) PrintWorkingDirectoryCommand(cmd, arg string) error {
	return s.reply(StatusPathnameCreated, fmt.Sprintf("%q is the current directory", s.fs.WorkingDir()))
}

func (s *Session) ChangeDirectoryCommand(cmd, arg string) error {
	if !s.fs.ChangeDir(arg) {
		return s.reply(StatusFileUnavailable, "No such directory")
	}
	return s.reply(StatusFileActionOK, fmt.Sprintf("Directory successfully changed to %q", s.fs.WorkingDir()))
}

func (s *Session) ListCommand(cmd, arg string) error {
	return s.passiveSend("Here comes the directory listing", func() ([]byte, error) {
		listing, err := s.fs.List()
		return []byte(listing), err
	}, "Directory send OK")
}

func (s *Session) SizeCommand(cmd, arg string) error {
	isFile, size := s.fs.Size(arg)
	if !isFile {
		return s.reply(StatusFileUnavailable, "Could not get file size")
	}
	return s.reply(StatusFileStatus, size)
}

// RetrieveCommand sends a file. Anything that is not a regular file is refused before
// the data connection is touched.
func (s *Session) RetrieveCommand(cmd, arg string) error {
	if isFile, _ := s.fs.Size(arg); !isFile {
		return s.reply(StatusFileUnavailable, "Not a file")
	}
	return s.passiveSend("Opening data connection for "+arg, func() ([]byte, error) {
		return s.fs.Read(arg)
	}, "Transfer complete")
}

// SaveCommand stores the bytes of the data connection under arg, replacing any existing file.
func (s *Session) SaveCommand(cmd, arg string) error {
	return s.passiveReceive("Ok to send data", func(src filesystem.ChunkSource) error {
		return s.fs.Write(arg, src)
	}, "Transfer complete")
}

func (s *Session) RemoveCommand(cmd, arg string) error {
	if err := s.fs.Delete(arg); err != nil {
		return err
	}
	return s.reply(StatusPathnameCreated, fmt.Sprintf("%q File deleted", arg))
}

func (s *Session) MakeDirectoryCommand(cmd, arg string) error {
	if err := s.fs.MakeDir(arg); err != nil {
		return err
	}
	return s.reply(StatusPathnameCreated, fmt.Sprintf("%q Directory created", arg))
}

func (s *Session) RemoveDirectoryCommand(cmd, arg string) error {
	if err := s.fs.RemoveDir(arg); err != nil {
		return err
	}
	return s.reply(StatusFileActionOK, fmt.Sprintf("%q Directory removed", arg))
}

// RenameFromCommand replies 350 and reads the next line itself; it must be RNTO.
// Any other line is consumed, nothing is renamed and the command fails.
func (s *Session) RenameFromCommand(cmd, arg string) error {
	s.renameFrom = arg
	defer func() { s.renameFrom = "" }()
	if err := s.reply(StatusFileActionPending, "Ready to rename"); err != nil {
		return nil
	}

	s.state = stateAwaitingRenameTarget
	line, err := s.lines.ReadLine()
	switch {
	case errors.Is(err, ErrLineTooLong), errors.Is(err, ErrNonASCII):
		return fmt.Errorf("expecting RNTO after RNFR: %w", err)
	case err != nil:
		s.logger.Debug("Connection lost while waiting for RNTO", "error", err)
		s.state = stateTerminated
		return nil
	}
	s.logger.Debug("Received", "command", tools.RedactCommand(line))
	next, to := parseCommand(line)
	if next != RNTO {
		return fmt.Errorf("expecting RNTO after RNFR, got %q: %w", next, ErrBadSequence)
	}

	s.state = stateDispatching
	if err := s.fs.Rename(s.renameFrom, to); err != nil {
		return err
	}
	return s.reply(StatusFileActionOK, "Renamed file")
}

// RenameToCommand handles an RNTO that does not directly follow RNFR.
func (s *Session) RenameToCommand(cmd, arg string) error {
	return s.reply(StatusBadSequenceOfCommands, "RNFR required first")
}

// CloseCommand handles QUIT: reply 221 and end the session.
func (s *Session) CloseCommand(cmd, arg string) error {
	err := s.reply(StatusServiceClosingControlConnection, "Goodbye")
	s.state = stateTerminated
	return err
}

// UnknownCommand answers every verb the server does not implement, PASS included.
func (s *Session) UnknownCommand(cmd, arg string) error {
	return s.reply(StatusSyntaxErrorInParameters, "Unknown command "+cmd)
}
