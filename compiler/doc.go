/*

Process of compilation

CC program (procedures, typed parameters, calls) ->
	calling convention ->
AL program (abstract locations, explicit registers and scopes) ->
	liveness, conflict graph, location assignment ->
FL program (registers and frame cells) ->
	instruction selection ->
RV program (CHERI-RISC-V instructions) ->
	assemble ->
Assembly listing

Every level can be read from and written to a YAML document,
so any intermediate program can be inspected or fed back in.

*/
package compiler
