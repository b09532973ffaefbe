// Command mediaforge is the command-line client for the mediaforge daemon.
//
// It submits and inspects jobs and conversations, works the review queue,
// manages personas, runs ad-hoc assembly, and starts or stops mediaforged.
// Commands load the configuration to find the API address and bearer token;
// "config init" and "config validate" handle it themselves.
package main
