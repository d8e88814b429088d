package main

import (
	"io"
	"log"
	"os"

	"github.com/gorilla/handlers"
	"github.com/natefinch/lumberjack"
)

// statusLogger logs requests to the status server in one line each.
func statusLogger(_ io.Writer, params handlers.LogFormatterParams) {
	r := params.Request
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	}
	log.Println("["+ip+"]", r.Method, params.StatusCode, r.RequestURI, params.Size)
}

// setupLogging tees the standard logger into a rotated file. The returned
// logger is handed to packages, they log through the same writer.
func setupLogging(path string) (*log.Logger, io.Closer) {
	rotated := &lumberjack.Logger{
		Filename: path,
		MaxSize:  10,
		Compress: true,
	}
	out := io.MultiWriter(rotated, os.Stdout)
	log.SetOutput(out)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	return log.New(out, "", log.Ldate|log.Ltime|log.Lshortfile), rotated
}
