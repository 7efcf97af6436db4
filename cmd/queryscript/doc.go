// Package main runs a JavaScript file as a content page connected to a
// queryrouterd daemon.
//
// The script sees the query functions of the content router, by default
// cefQuery and cefQueryCancel. The process exits once the script and every
// query it issued have finished, or when -timeout expires.
//
// Usage:
//
//	./queryscript -url ws://127.0.0.1:8000/ws page.js
//
// Example page.js:
//
//	cefQuery({
//	    request: JSON.stringify({method: "time"}),
//	    onSuccess: function(response) { console.log(response); },
//	    onFailure: function(code, message) { console.error(code, message); }
//	});
package main
